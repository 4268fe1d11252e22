package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/bdobrica/glitchy/internal/glitchy/memory"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the default Backend, a single database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath and runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// One connection: SQLite has a single writer, so let database/sql queue
	// callers instead of contending for the write lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set pragma: %w", err)
		}
	}

	s := &SQLite{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type migration struct {
	version     int
	description string
	file        string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []migration
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		// "0001_init.sql" -> 1, "init"
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(prefix, "%d", &version); err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %q and %q", version, prev, name)
		}
		seen[version] = name
		out = append(out, migration{
			version:     version,
			description: strings.TrimSuffix(rest, ".sql"),
			file:        path.Join("migrations", name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// runMigrations applies every migration newer than the recorded version,
// each in its own transaction.
func (s *SQLite) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		content, err := migrationsFS.ReadFile(m.file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.file, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now().UTC(), m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		slog.Info("store: applied migration", "version", fmt.Sprintf("%04d", m.version), "description", m.description)
	}
	return nil
}

// --- Turns ---

// AppendTurn adds a turn to nick's log and prunes it to TurnRetention.
func (s *SQLite) AppendTurn(ctx context.Context, nick, role, text string, at time.Time) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if err := validRole(role); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO turns (nick, role, text, created_at) VALUES (?, ?, ?, ?)",
		n, role, text, at.UTC(),
	); err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM turns
		WHERE nick = ? AND id NOT IN (
			SELECT id FROM turns WHERE nick = ? ORDER BY id DESC LIMIT ?
		)`, n, n, TurnRetention,
	); err != nil {
		return fmt.Errorf("store: prune turns: %w", err)
	}
	return tx.Commit()
}

// RecentTurns returns up to limit of nick's newest turns, oldest first.
func (s *SQLite) RecentTurns(ctx context.Context, nick string, limit int) ([]memory.Turn, error) {
	n, err := normalizeNick(nick)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = TurnRetention
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, text, created_at FROM turns WHERE nick = ? ORDER BY id DESC LIMIT ?",
		n, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		var t memory.Turn
		if err := rows.Scan(&t.Role, &t.Text, &t.At); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	slices.Reverse(turns)
	return turns, nil
}

// ClearTurns deletes nick's log.
func (s *SQLite) ClearTurns(ctx context.Context, nick string) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE nick = ?", n); err != nil {
		return fmt.Errorf("store: clear turns: %w", err)
	}
	return nil
}

// --- Preferences ---

// GetPreference returns nick's preferences or ErrNotFound.
func (s *SQLite) GetPreference(ctx context.Context, nick string) (Preference, error) {
	n, err := normalizeNick(nick)
	if err != nil {
		return Preference{}, err
	}
	p := Preference{Nick: n}
	err = s.db.QueryRowContext(ctx,
		"SELECT timezone, time_format FROM preferences WHERE nick = ?", n,
	).Scan(&p.Timezone, &p.TimeFormat)
	if errors.Is(err, sql.ErrNoRows) {
		return Preference{}, ErrNotFound
	}
	if err != nil {
		return Preference{}, fmt.Errorf("store: get preference: %w", err)
	}
	return p, nil
}

// UpsertPreference stores the non-empty fields of p.
func (s *SQLite) UpsertPreference(ctx context.Context, p Preference) error {
	n, err := normalizeNick(p.Nick)
	if err != nil {
		return err
	}
	if err := validTimeFormat(p.TimeFormat); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (nick, timezone, time_format, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(nick) DO UPDATE SET
			timezone    = CASE WHEN excluded.timezone    <> '' THEN excluded.timezone    ELSE preferences.timezone    END,
			time_format = CASE WHEN excluded.time_format <> '' THEN excluded.time_format ELSE preferences.time_format END,
			updated_at  = excluded.updated_at
	`, n, p.Timezone, p.TimeFormat, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: upsert preference: %w", err)
	}
	return nil
}

// --- Ignore list ---

// ListIgnored returns the ignored nicks in alphabetical order.
func (s *SQLite) ListIgnored(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT nick FROM ignored_nicks ORDER BY nick")
	if err != nil {
		return nil, fmt.Errorf("store: list ignored: %w", err)
	}
	defer rows.Close()

	var nicks []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("store: scan ignored: %w", err)
		}
		nicks = append(nicks, n)
	}
	return nicks, rows.Err()
}

// AddIgnored adds nick to the ignore list.  Adding twice is not an error.
func (s *SQLite) AddIgnored(ctx context.Context, nick string) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO ignored_nicks (nick, created_at) VALUES (?, ?) ON CONFLICT(nick) DO NOTHING",
		n, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("store: add ignored: %w", err)
	}
	return nil
}

// RemoveIgnored removes nick from the ignore list.
func (s *SQLite) RemoveIgnored(ctx context.Context, nick string) error {
	n, err := normalizeNick(nick)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ignored_nicks WHERE nick = ?", n); err != nil {
		return fmt.Errorf("store: remove ignored: %w", err)
	}
	return nil
}

// --- Matrix sync state ---

// SaveSyncValue upserts a key/value pair for userID.
func (s *SQLite) SaveSyncValue(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("store: save sync value: %w", err)
	}
	return nil
}

// LoadSyncValue returns the stored value, or "" when the row is missing.
func (s *SQLite) LoadSyncValue(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?",
		userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load sync value: %w", err)
	}
	return value, nil
}
