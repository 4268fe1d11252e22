package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

// fakeHomeserver answers the handful of client-server API calls the client
// makes and records sent messages.
type fakeHomeserver struct {
	mu      sync.Mutex
	members map[string][]string // room ID -> joined user IDs
	sent    []sentMessage
	joins   []string
	leaves  []string
	memberQ int
}

type sentMessage struct {
	Room    string
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

func (f *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	room := roomFromPath(path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, "/joined_members"):
		f.memberQ++
		joined := map[string]any{}
		for _, u := range f.members[room] {
			joined[u] = map[string]any{}
		}
		json.NewEncoder(w).Encode(map[string]any{"joined": joined})

	case strings.Contains(path, "/send/m.room.message/"):
		var m sentMessage
		json.NewDecoder(r.Body).Decode(&m)
		m.Room = room
		f.sent = append(f.sent, m)
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$evt"})

	case strings.HasSuffix(path, "/join"):
		f.joins = append(f.joins, room)
		json.NewEncoder(w).Encode(map[string]string{"room_id": room})

	case strings.HasSuffix(path, "/leave"):
		f.leaves = append(f.leaves, room)
		w.Write([]byte("{}"))

	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"not found"}`))
	}
}

// roomFromPath extracts the room ID from ".../rooms/<id>/...".
func roomFromPath(path string) string {
	_, rest, ok := strings.Cut(path, "/rooms/")
	if !ok {
		return ""
	}
	room, _, _ := strings.Cut(rest, "/")
	return room
}

func newTestClient(t *testing.T, hs *fakeHomeserver, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	cfg := Config{
		Homeserver:  srv.URL,
		UserID:      "@glitchy:example.org",
		AccessToken: "syt_test",
		Admins:      []string{"@owner:example.org", "Root"},
		SendRate:    1000,
		SendBurst:   100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func textEvent(sender, room, body string, msgType event.MessageType) *event.Event {
	return &event.Event{
		Sender:    id.UserID(sender),
		RoomID:    id.RoomID(room),
		Type:      event.EventMessage,
		Timestamp: time.Now().UnixMilli(),
		Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: msgType, Body: body}},
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Homeserver: "https://example.org"}, nil); err == nil {
		t.Fatal("expected error without user ID and token")
	}
}

func TestNick(t *testing.T) {
	cases := map[id.UserID]string{
		"@alice:example.org": "alice",
		"@Bob_2:matrix.org":  "Bob_2",
		"not-a-user-id":      "not-a-user-id",
	}
	for in, want := range cases {
		if got := Nick(in); got != want {
			t.Errorf("Nick(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConvert(t *testing.T) {
	hs := &fakeHomeserver{members: map[string][]string{
		"!dm:example.org":    {"@glitchy:example.org", "@alice:example.org"},
		"!group:example.org": {"@glitchy:example.org", "@alice:example.org", "@bob:example.org"},
	}}
	c := newTestClient(t, hs, nil)
	ctx := context.Background()

	ev, ok := c.convert(ctx, textEvent("@alice:example.org", "!group:example.org", "glitchy: hi", event.MsgText))
	if !ok {
		t.Fatal("text message dropped")
	}
	if ev.Nick != "alice" || ev.Target != "!group:example.org" || ev.Direct || ev.Action || ev.Privileged {
		t.Errorf("group event = %+v", ev)
	}

	ev, ok = c.convert(ctx, textEvent("@alice:example.org", "!dm:example.org", "hi", event.MsgText))
	if !ok || !ev.Direct {
		t.Errorf("two-member room should be direct: %+v", ev)
	}

	ev, ok = c.convert(ctx, textEvent("@root:example.org", "!group:example.org", "pets glitchy", event.MsgEmote))
	if !ok || !ev.Action || !ev.Privileged {
		t.Errorf("emote from admin localpart = %+v", ev)
	}

	ev, _ = c.convert(ctx, textEvent("@owner:example.org", "!group:example.org", "hi", event.MsgText))
	if !ev.Privileged {
		t.Error("admin by full user ID not privileged")
	}

	if _, ok := c.convert(ctx, textEvent("@glitchy:example.org", "!group:example.org", "echo", event.MsgText)); ok {
		t.Error("own message should be dropped")
	}
	if _, ok := c.convert(ctx, textEvent("@alice:example.org", "!group:example.org", "pic", event.MsgImage)); ok {
		t.Error("image should be dropped")
	}

	hs.mu.Lock()
	queries := hs.memberQ
	hs.mu.Unlock()
	if queries != 2 {
		t.Errorf("member counts should be cached per room, got %d queries", queries)
	}
}

func TestIsAdmin_LocalpartBoundToOwnHomeserver(t *testing.T) {
	c := newTestClient(t, &fakeHomeserver{}, nil)

	cases := map[id.UserID]bool{
		"@owner:example.org":   true,
		"@OWNER:example.org":   true,
		"@root:example.org":    true,
		"@root:evil.example":   false,
		"@owner:evil.example":  false,
		"@someone:example.org": false,
	}
	for sender, want := range cases {
		if got := c.isAdmin(sender); got != want {
			t.Errorf("isAdmin(%q) = %v, want %v", sender, got, want)
		}
	}
}

func TestNew_RejectsMalformedAdmin(t *testing.T) {
	_, err := New(Config{
		Homeserver:  "https://example.org",
		UserID:      "@glitchy:example.org",
		AccessToken: "syt_test",
		Admins:      []string{"@nohomeserver"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for an admin without a homeserver")
	}
}

func TestDeliver_DropsEventsAfterStop(t *testing.T) {
	c := newTestClient(t, &fakeHomeserver{members: map[string][]string{}}, nil)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		calls int
	)
	handler := func(context.Context, chat.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	c.deliver(ctx, textEvent("@alice:example.org", "!r:example.org", "before", event.MsgText), handler)
	c.Stop()
	c.deliver(ctx, textEvent("@alice:example.org", "!r:example.org", "after", event.MsgText), handler)
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestConvert_DropsEventsBeforeStart(t *testing.T) {
	c := newTestClient(t, &fakeHomeserver{}, nil)
	c.started = time.Now()

	old := textEvent("@alice:example.org", "!r:example.org", "old news", event.MsgText)
	old.Timestamp = c.started.Add(-time.Minute).UnixMilli()
	if _, ok := c.convert(context.Background(), old); ok {
		t.Error("event from before start should be dropped")
	}
}

func TestHandleMember_InvalidatesCountAndAutoJoins(t *testing.T) {
	hs := &fakeHomeserver{members: map[string][]string{"!r:example.org": {"@glitchy:example.org"}}}
	c := newTestClient(t, hs, func(cfg *Config) { cfg.AutoJoin = true })
	ctx := context.Background()

	c.isDirect(ctx, "!r:example.org")
	stateKey := "@glitchy:example.org"
	c.handleMember(ctx, &event.Event{
		Sender:   "@alice:example.org",
		RoomID:   "!r:example.org",
		Type:     event.StateMember,
		StateKey: &stateKey,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
	})

	c.mu.Lock()
	_, cached := c.members["!r:example.org"]
	c.mu.Unlock()
	if cached {
		t.Error("membership change should invalidate the cached count")
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if len(hs.joins) != 1 || hs.joins[0] != "!r:example.org" {
		t.Errorf("invite not accepted, joins = %v", hs.joins)
	}
}

func TestTransport(t *testing.T) {
	hs := &fakeHomeserver{}
	c := newTestClient(t, hs, nil)
	ctx := context.Background()

	if err := c.Send(ctx, "!r:example.org", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.SendAction(ctx, "!r:example.org", "purrs"); err != nil {
		t.Fatalf("SendAction: %v", err)
	}
	if err := c.Join(ctx, "!other:example.org", "sekrit"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := c.Part(ctx, "!other:example.org"); err != nil {
		t.Fatalf("Part: %v", err)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	want := []sentMessage{
		{Room: "!r:example.org", MsgType: "m.text", Body: "hello"},
		{Room: "!r:example.org", MsgType: "m.emote", Body: "purrs"},
	}
	if len(hs.sent) != len(want) {
		t.Fatalf("sent = %+v", hs.sent)
	}
	for i := range want {
		if hs.sent[i] != want[i] {
			t.Errorf("sent[%d] = %+v, want %+v", i, hs.sent[i], want[i])
		}
	}
	if len(hs.joins) != 1 || len(hs.leaves) != 1 {
		t.Errorf("joins = %v, leaves = %v", hs.joins, hs.leaves)
	}
}

func TestSend_RespectsContext(t *testing.T) {
	c := newTestClient(t, &fakeHomeserver{}, func(cfg *Config) {
		cfg.SendRate = 0.001
		cfg.SendBurst = 1
	})
	ctx := context.Background()
	if err := c.Send(ctx, "!r:example.org", "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := c.Send(ctx, "!r:example.org", "second"); err == nil {
		t.Error("expected the limiter to refuse a send it cannot serve before the deadline")
	}
}

func TestSyncStore(t *testing.T) {
	db, err := store.NewSQLite(t.TempDir() + "/sync.db")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := newSyncStore(db)
	ctx := context.Background()
	user := id.UserID("@glitchy:example.org")

	if v, err := s.LoadNextBatch(ctx, user); err != nil || v != "" {
		t.Fatalf("first run: %q, %v", v, err)
	}
	if err := s.SaveNextBatch(ctx, user, "batch_42"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFilterID(ctx, user, "filter_7"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.LoadNextBatch(ctx, user); v != "batch_42" {
		t.Errorf("next batch = %q", v)
	}
	if v, _ := s.LoadFilterID(ctx, user); v != "filter_7" {
		t.Errorf("filter ID = %q", v)
	}
}
