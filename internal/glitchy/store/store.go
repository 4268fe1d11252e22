// Package store provides the bot's durable state: the per-user turn log,
// time preferences, the admin ignore list and the Matrix sync position.
//
// Two backends implement Backend: SQLite (the default, a single file) and
// Redis.  Every failure is returned to the caller; the components that use a
// Backend log and ignore them.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/glitchy/internal/glitchy/memory"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TurnRetention is the number of turns kept per nick.  Older turns are
// pruned on append.
const TurnRetention = 200

// Time formats stored in Preference.TimeFormat.
const (
	TimeFormat12h = "12h"
	TimeFormat24h = "24h"
)

// Preference holds a user's time settings.  Empty fields are unset.
type Preference struct {
	Nick       string
	Timezone   string
	TimeFormat string
}

// Backend is the full durable-store contract.
type Backend interface {
	memory.TurnLog

	// GetPreference returns ErrNotFound when nick has no preferences.
	GetPreference(ctx context.Context, nick string) (Preference, error)
	// UpsertPreference stores the non-empty fields of p, keeping the others.
	UpsertPreference(ctx context.Context, p Preference) error

	ListIgnored(ctx context.Context) ([]string, error)
	AddIgnored(ctx context.Context, nick string) error
	RemoveIgnored(ctx context.Context, nick string) error

	// SaveSyncValue and LoadSyncValue back the Matrix sync store.  A missing
	// value loads as "".
	SaveSyncValue(ctx context.Context, userID, key, value string) error
	LoadSyncValue(ctx context.Context, userID, key string) (string, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Redis)(nil)
)

func normalizeNick(nick string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(nick))
	if n == "" {
		return "", fmt.Errorf("store: empty nick")
	}
	return n, nil
}

func validRole(role string) error {
	if role != memory.RoleUser && role != memory.RoleAssistant {
		return fmt.Errorf("store: invalid role %q", role)
	}
	return nil
}

func validTimeFormat(f string) error {
	if f != "" && f != TimeFormat12h && f != TimeFormat24h {
		return fmt.Errorf("store: invalid time format %q", f)
	}
	return nil
}
