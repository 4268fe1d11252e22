package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

func newTestSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "glitchy-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.NewSQLite(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testBackend runs the behaviour every Backend must share.
func testBackend(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	ctx := context.Background()

	t.Run("turns round trip oldest first", func(t *testing.T) {
		b := newBackend(t)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := b.AppendTurn(ctx, "Alice", memory.RoleUser, "hi", base); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
		if err := b.AppendTurn(ctx, "alice", memory.RoleAssistant, "hello alice", base.Add(time.Second)); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}

		turns, err := b.RecentTurns(ctx, "ALICE", 10)
		if err != nil {
			t.Fatalf("RecentTurns: %v", err)
		}
		if len(turns) != 2 {
			t.Fatalf("got %d turns, want 2", len(turns))
		}
		if turns[0].Role != memory.RoleUser || turns[0].Text != "hi" {
			t.Errorf("turns[0] = %+v", turns[0])
		}
		if turns[1].Role != memory.RoleAssistant || turns[1].Text != "hello alice" {
			t.Errorf("turns[1] = %+v", turns[1])
		}
		if !turns[0].At.Equal(base) {
			t.Errorf("turns[0].At = %v, want %v", turns[0].At, base)
		}
	})

	t.Run("recent turns honours limit", func(t *testing.T) {
		b := newBackend(t)
		for i := 0; i < 5; i++ {
			if err := b.AppendTurn(ctx, "bob", memory.RoleUser, fmt.Sprintf("m%d", i), time.Now()); err != nil {
				t.Fatal(err)
			}
		}
		turns, err := b.RecentTurns(ctx, "bob", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(turns) != 2 || turns[0].Text != "m3" || turns[1].Text != "m4" {
			t.Errorf("got %+v, want m3, m4", turns)
		}
	})

	t.Run("retention prunes old turns", func(t *testing.T) {
		b := newBackend(t)
		for i := 0; i < store.TurnRetention+5; i++ {
			if err := b.AppendTurn(ctx, "carol", memory.RoleUser, fmt.Sprintf("m%d", i), time.Now()); err != nil {
				t.Fatal(err)
			}
		}
		turns, err := b.RecentTurns(ctx, "carol", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(turns) != store.TurnRetention {
			t.Fatalf("kept %d turns, want %d", len(turns), store.TurnRetention)
		}
		if turns[0].Text != "m5" {
			t.Errorf("oldest kept = %q, want m5", turns[0].Text)
		}
	})

	t.Run("clear turns", func(t *testing.T) {
		b := newBackend(t)
		if err := b.AppendTurn(ctx, "dave", memory.RoleUser, "x", time.Now()); err != nil {
			t.Fatal(err)
		}
		if err := b.ClearTurns(ctx, "Dave"); err != nil {
			t.Fatal(err)
		}
		turns, err := b.RecentTurns(ctx, "dave", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(turns) != 0 {
			t.Errorf("expected no turns after clear, got %d", len(turns))
		}
	})

	t.Run("invalid input rejected", func(t *testing.T) {
		b := newBackend(t)
		if err := b.AppendTurn(ctx, "", memory.RoleUser, "x", time.Now()); err == nil {
			t.Error("expected error for empty nick")
		}
		if err := b.AppendTurn(ctx, "eve", "system", "x", time.Now()); err == nil {
			t.Error("expected error for invalid role")
		}
		if err := b.UpsertPreference(ctx, store.Preference{Nick: "eve", TimeFormat: "36h"}); err == nil {
			t.Error("expected error for invalid time format")
		}
	})

	t.Run("preferences merge", func(t *testing.T) {
		b := newBackend(t)
		if _, err := b.GetPreference(ctx, "frank"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := b.UpsertPreference(ctx, store.Preference{Nick: "Frank", Timezone: "Europe/Berlin"}); err != nil {
			t.Fatal(err)
		}
		if err := b.UpsertPreference(ctx, store.Preference{Nick: "frank", TimeFormat: store.TimeFormat24h}); err != nil {
			t.Fatal(err)
		}
		p, err := b.GetPreference(ctx, "FRANK")
		if err != nil {
			t.Fatal(err)
		}
		want := store.Preference{Nick: "frank", Timezone: "Europe/Berlin", TimeFormat: store.TimeFormat24h}
		if p != want {
			t.Errorf("got %+v, want %+v", p, want)
		}
	})

	t.Run("ignore list", func(t *testing.T) {
		b := newBackend(t)
		for _, n := range []string{"Zed", "amy", "zed"} {
			if err := b.AddIgnored(ctx, n); err != nil {
				t.Fatal(err)
			}
		}
		got, err := b.ListIgnored(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0] != "amy" || got[1] != "zed" {
			t.Errorf("ListIgnored = %v, want [amy zed]", got)
		}
		if err := b.RemoveIgnored(ctx, "AMY"); err != nil {
			t.Fatal(err)
		}
		got, _ = b.ListIgnored(ctx)
		if len(got) != 1 || got[0] != "zed" {
			t.Errorf("after remove: %v", got)
		}
	})

	t.Run("sync values", func(t *testing.T) {
		b := newBackend(t)
		v, err := b.LoadSyncValue(ctx, "@glitchy:example.org", "next_batch")
		if err != nil || v != "" {
			t.Fatalf("missing value: %q, %v", v, err)
		}
		if err := b.SaveSyncValue(ctx, "@glitchy:example.org", "next_batch", "s1"); err != nil {
			t.Fatal(err)
		}
		if err := b.SaveSyncValue(ctx, "@glitchy:example.org", "next_batch", "s2"); err != nil {
			t.Fatal(err)
		}
		v, err = b.LoadSyncValue(ctx, "@glitchy:example.org", "next_batch")
		if err != nil || v != "s2" {
			t.Errorf("got %q, %v; want s2", v, err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newBackend(t).Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func TestSQLite(t *testing.T) {
	testBackend(t, func(t *testing.T) store.Backend { return newTestSQLite(t) })
}

func TestSQLite_MigrationsAreIdempotent(t *testing.T) {
	path := t.TempDir() + "/glitchy.db"
	s, err := store.NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddIgnored(context.Background(), "spammer"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = store.NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.ListIgnored(context.Background())
	if err != nil || len(got) != 1 {
		t.Errorf("data lost across reopen: %v, %v", got, err)
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	if _, err := store.Open(context.Background(), store.Options{Kind: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := store.Open(context.Background(), store.Options{Kind: store.KindSQLite}); err == nil {
		t.Error("expected error for missing sqlite path")
	}
}
