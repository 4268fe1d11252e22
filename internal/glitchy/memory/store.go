package memory

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"
)

// TurnLog is the durable per-user conversation log.
type TurnLog interface {
	AppendTurn(ctx context.Context, nick, role, text string, at time.Time) error
	RecentTurns(ctx context.Context, nick string, limit int) ([]Turn, error)
	ClearTurns(ctx context.Context, nick string) error
}

// Config holds the Store limits.
type Config struct {
	// BotNick identifies the bot's own entries.
	BotNick string
	// Capacity is the ring size per conversation.  Default: 50.
	Capacity int
	// CoalesceBytes caps a coalesced entry.  Default: 600.
	CoalesceBytes int
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{Capacity: 50, CoalesceBytes: 600}
}

const (
	coalesceSeparator = " / "
	ellipsis          = "…"
)

type conversation struct {
	mu             sync.Mutex
	history        *ring[Entry]
	lastResponseAt time.Time
}

// Store holds every conversation of the process.  It is safe for concurrent
// use: each conversation has its own lock and no operation holds two
// conversation locks at once.
type Store struct {
	cfg    Config
	log    TurnLog
	logger *slog.Logger
	seq    atomic.Uint64

	mu       sync.Mutex // guards convs and channels, never held with a conversation lock
	convs    map[Key]*conversation
	channels map[string]map[Key]struct{}
}

// New creates a Store.  log may be nil when no durable backend is configured.
func New(cfg Config, log TurnLog, logger *slog.Logger) *Store {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.CoalesceBytes <= 0 {
		cfg.CoalesceBytes = def.CoalesceBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:      cfg,
		log:      log,
		logger:   logger,
		convs:    make(map[Key]*conversation),
		channels: make(map[string]map[Key]struct{}),
	}
}

// BotNick returns the speaker name used for the bot's entries.
func (s *Store) BotNick() string { return s.cfg.BotNick }

func (s *Store) get(key Key) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[key]
	if c == nil {
		c = &conversation{history: newRing[Entry](s.cfg.Capacity)}
		s.convs[key] = c
		if key.Kind == KindChannel {
			keys := s.channels[key.Channel]
			if keys == nil {
				keys = make(map[Key]struct{})
				s.channels[key.Channel] = keys
			}
			keys[key] = struct{}{}
		}
	}
	return c
}

// lookup returns the conversation for key without creating it.
func (s *Store) lookup(key Key) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[key]
}

func (s *Store) channelKeys(channel string) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.channels[channel]))
	for k := range s.channels[channel] {
		keys = append(keys, k)
	}
	return keys
}

// Append records a line.  A line from the same speaker as the previous entry
// is merged into it.  Noisy lines (a bare URL, one to three characters,
// punctuation only) are dropped unless addressed is set.  It reports whether
// anything was stored.
func (s *Store) Append(key Key, speaker, text string, addressed bool) bool {
	return s.appendAt(key, speaker, text, addressed, time.Now())
}

// appendAt is the time-injectable core of Append.
func (s *Store) appendAt(key Key, speaker, text string, addressed bool, now time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" || (!addressed && isNoisy(text)) {
		return false
	}

	c := s.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := s.seq.Add(1)
	if prev := c.history.last(); prev != nil && strings.EqualFold(prev.Speaker, speaker) {
		prev.Text = s.coalesce(prev.Text, text)
		prev.At = now
		prev.Seq = seq
		return true
	}
	c.history.push(Entry{Speaker: speaker, Text: s.capText(text), At: now, Seq: seq})
	return true
}

// coalesce joins two lines and keeps the newest CoalesceBytes of the result.
func (s *Store) coalesce(prev, next string) string {
	return s.capText(prev + coalesceSeparator + next)
}

func (s *Store) capText(text string) string {
	budget := s.cfg.CoalesceBytes
	if len(text) <= budget {
		return text
	}
	cut := len(text) - (budget - len(ellipsis))
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	return ellipsis + text[cut:]
}

var bareURLRe = regexp.MustCompile(`(?i)^(?:https?://|www\.)\S+$`)

func isNoisy(text string) bool {
	if bareURLRe.MatchString(text) {
		return true
	}
	if utf8.RuneCountInString(text) <= 3 {
		return true
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// History returns a copy of key's entries, oldest first.
func (s *Store) History(key Key) []Entry {
	c := s.lookup(key)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.items()
}

// RecentFor returns up to limit of the newest entries spoken by requester or
// the bot, oldest first.
func (s *Store) RecentFor(key Key, requester string, limit int) []Entry {
	all := s.History(key)
	var out []Entry
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := all[i]
		if strings.EqualFold(e.Speaker, requester) || strings.EqualFold(e.Speaker, s.cfg.BotNick) {
			out = append(out, e)
		}
	}
	slices.Reverse(out)
	return out
}

// Context returns the prompt context for requester: the durable turn log when
// it has anything for them, otherwise RecentFor mapped to roles.
func (s *Store) Context(ctx context.Context, key Key, requester string, limit int) []Turn {
	if s.log != nil {
		turns, err := s.log.RecentTurns(ctx, strings.ToLower(requester), limit)
		if err != nil {
			s.logger.Warn("memory: durable context unavailable, using in-memory history",
				"nick", requester, "err", err)
		} else if len(turns) > 0 {
			return turns
		}
	}

	entries := s.RecentFor(key, requester, limit)
	turns := make([]Turn, 0, len(entries))
	for _, e := range entries {
		role := RoleUser
		if strings.EqualFold(e.Speaker, s.cfg.BotNick) {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Text: e.Text, At: e.At})
	}
	return turns
}

// LogTurn appends to the durable log.  Failures are logged and ignored.
func (s *Store) LogTurn(ctx context.Context, nick, role, text string) {
	if s.log == nil {
		return
	}
	if err := s.log.AppendTurn(ctx, strings.ToLower(nick), role, text, time.Now()); err != nil {
		s.logger.Warn("memory: failed to persist turn", "nick", nick, "role", role, "err", err)
	}
}

// MarkResponded records that the bot answered in key's conversation.
func (s *Store) MarkResponded(key Key, at time.Time) {
	c := s.get(key)
	c.mu.Lock()
	c.lastResponseAt = at
	c.mu.Unlock()
}

// LastResponse returns when the bot last answered in key's conversation.
func (s *Store) LastResponse(key Key) time.Time {
	c := s.lookup(key)
	if c == nil {
		return time.Time{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponseAt
}

// Reset clears key's history, in memory and in the durable log.  With
// channelWide set every conversation in key.Channel is cleared.  It returns
// the number of conversations cleared.
func (s *Store) Reset(ctx context.Context, key Key, channelWide bool) int {
	keys := []Key{key}
	if channelWide && key.Kind == KindChannel {
		keys = s.channelKeys(key.Channel)
	}

	cleared := 0
	for _, k := range keys {
		if c := s.lookup(k); c != nil {
			c.mu.Lock()
			if c.history.len() > 0 {
				cleared++
			}
			c.history.clear()
			c.mu.Unlock()
		}
		if s.log != nil {
			if err := s.log.ClearTurns(ctx, k.Nick); err != nil {
				s.logger.Warn("memory: failed to clear durable history", "nick", k.Nick, "err", err)
			}
		}
	}
	return cleared
}

// Stats reports the number of conversations and stored entries.
func (s *Store) Stats() (conversations, entries int) {
	s.mu.Lock()
	convs := make([]*conversation, 0, len(s.convs))
	for _, c := range s.convs {
		convs = append(convs, c)
	}
	s.mu.Unlock()

	for _, c := range convs {
		c.mu.Lock()
		entries += c.history.len()
		c.mu.Unlock()
	}
	return len(convs), entries
}
