package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/glitchy/internal/glitchy/memory"
)

// Redis is a Backend for deployments that already run Redis.
//
// Layout, under the configured prefix:
//
//	<prefix>:turns:<nick>   list of JSON turns, oldest first
//	<prefix>:pref:<nick>    hash {timezone, time_format}
//	<prefix>:ignored        set of nicks
//	<prefix>:sync:<user>    hash of Matrix sync values
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a Redis backend.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix.  Default: "glitchy".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis wraps client.  The caller keeps ownership of the client's
// configuration; Close closes it.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "glitchy"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) turnsKey(nick string) string { return r.prefix + ":turns:" + nick }
func (r *Redis) prefKey(nick string) string  { return r.prefix + ":pref:" + nick }
func (r *Redis) ignoredKey() string          { return r.prefix + ":ignored" }
func (r *Redis) syncKey(userID string) string {
	return r.prefix + ":sync:" + userID
}

type redisTurn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// AppendTurn pushes a turn and trims the list to TurnRetention in one
// round-trip.
func (r *Redis) AppendTurn(ctx context.Context, nick, role, text string, at time.Time) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if err := validRole(role); err != nil {
		return err
	}
	data, err := json.Marshal(redisTurn{Role: role, Text: text, At: at.UTC()})
	if err != nil {
		return fmt.Errorf("store: marshal turn: %w", err)
	}

	key := r.turnsKey(n)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -TurnRetention, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of nick's newest turns, oldest first.
func (r *Redis) RecentTurns(ctx context.Context, nick string, limit int) ([]memory.Turn, error) {
	n, err := normalizeNick(nick)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = TurnRetention
	}

	raw, err := r.client.LRange(ctx, r.turnsKey(n), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	turns := make([]memory.Turn, 0, len(raw))
	for _, item := range raw {
		var t redisTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("store: unmarshal turn: %w", err)
		}
		turns = append(turns, memory.Turn{Role: t.Role, Text: t.Text, At: t.At})
	}
	return turns, nil
}

// ClearTurns deletes nick's log.
func (r *Redis) ClearTurns(ctx context.Context, nick string) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.turnsKey(n)).Err(); err != nil {
		return fmt.Errorf("store: clear turns: %w", err)
	}
	return nil
}

// GetPreference returns nick's preferences or ErrNotFound.
func (r *Redis) GetPreference(ctx context.Context, nick string) (Preference, error) {
	n, err := normalizeNick(nick)
	if err != nil {
		return Preference{}, err
	}
	fields, err := r.client.HGetAll(ctx, r.prefKey(n)).Result()
	if err != nil {
		return Preference{}, fmt.Errorf("store: get preference: %w", err)
	}
	if len(fields) == 0 {
		return Preference{}, ErrNotFound
	}
	return Preference{Nick: n, Timezone: fields["timezone"], TimeFormat: fields["time_format"]}, nil
}

// UpsertPreference stores the non-empty fields of p.
func (r *Redis) UpsertPreference(ctx context.Context, p Preference) error {
	n, err := normalizeNick(p.Nick)
	if err != nil {
		return err
	}
	if err := validTimeFormat(p.TimeFormat); err != nil {
		return err
	}
	values := map[string]any{"updated_at": time.Now().UTC().Format(time.RFC3339)}
	if p.Timezone != "" {
		values["timezone"] = p.Timezone
	}
	if p.TimeFormat != "" {
		values["time_format"] = p.TimeFormat
	}
	if err := r.client.HSet(ctx, r.prefKey(n), values).Err(); err != nil {
		return fmt.Errorf("store: upsert preference: %w", err)
	}
	return nil
}

// ListIgnored returns the ignored nicks in alphabetical order.
func (r *Redis) ListIgnored(ctx context.Context) ([]string, error) {
	nicks, err := r.client.SMembers(ctx, r.ignoredKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list ignored: %w", err)
	}
	sort.Strings(nicks)
	return nicks, nil
}

// AddIgnored adds nick to the ignore list.
func (r *Redis) AddIgnored(ctx context.Context, nick string) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, r.ignoredKey(), n).Err(); err != nil {
		return fmt.Errorf("store: add ignored: %w", err)
	}
	return nil
}

// RemoveIgnored removes nick from the ignore list.
func (r *Redis) RemoveIgnored(ctx context.Context, nick string) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if err := r.client.SRem(ctx, r.ignoredKey(), n).Err(); err != nil {
		return fmt.Errorf("store: remove ignored: %w", err)
	}
	return nil
}

// SaveSyncValue stores a Matrix sync value for userID.
func (r *Redis) SaveSyncValue(ctx context.Context, userID, key, value string) error {
	if err := r.client.HSet(ctx, r.syncKey(userID), key, value).Err(); err != nil {
		return fmt.Errorf("store: save sync value: %w", err)
	}
	return nil
}

// LoadSyncValue returns the stored value, or "" when missing.
func (r *Redis) LoadSyncValue(ctx context.Context, userID, key string) (string, error) {
	value, err := r.client.HGet(ctx, r.syncKey(userID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load sync value: %w", err)
	}
	return value, nil
}
