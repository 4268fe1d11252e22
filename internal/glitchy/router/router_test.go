package router_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/chat/chattest"
	"github.com/bdobrica/glitchy/internal/glitchy/dispatch"
	"github.com/bdobrica/glitchy/internal/glitchy/intent"
	"github.com/bdobrica/glitchy/internal/glitchy/llm"
	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
	"github.com/bdobrica/glitchy/internal/glitchy/ratelimit"
	"github.com/bdobrica/glitchy/internal/glitchy/router"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

// --- fakes ---

type fakeQueue struct {
	mu    sync.Mutex
	err   error
	tasks []dispatch.Task
}

func (q *fakeQueue) Enqueue(t dispatch.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *fakeQueue) Tasks() []dispatch.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]dispatch.Task(nil), q.tasks...)
}

type fakePrefs struct {
	mu    sync.Mutex
	prefs map[string]store.Preference
}

func (f *fakePrefs) GetPreference(_ context.Context, nick string) (store.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[strings.ToLower(nick)]
	if !ok {
		return store.Preference{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakePrefs) UpsertPreference(_ context.Context, p store.Preference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefs == nil {
		f.prefs = make(map[string]store.Preference)
	}
	nick := strings.ToLower(p.Nick)
	cur := f.prefs[nick]
	cur.Nick = nick
	if p.Timezone != "" {
		cur.Timezone = p.Timezone
	}
	if p.TimeFormat != "" {
		cur.TimeFormat = p.TimeFormat
	}
	f.prefs[nick] = cur
	return nil
}

type fakeIgnores struct {
	mu    sync.Mutex
	nicks []string
}

func (f *fakeIgnores) ListIgnored(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.nicks...), nil
}

func (f *fakeIgnores) AddIgnored(_ context.Context, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(f.nicks, nick) {
		f.nicks = append(f.nicks, nick)
	}
	return nil
}

func (f *fakeIgnores) RemoveIgnored(_ context.Context, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nicks = slices.DeleteFunc(f.nicks, func(n string) bool { return n == nick })
	return nil
}

// --- harness ---

var fixedNow = time.Date(2026, 3, 14, 15, 4, 0, 0, time.UTC)

type harness struct {
	router    *router.Router
	memory    *memory.Store
	queue     *fakeQueue
	transport *chattest.Recorder
	prefs     *fakePrefs
	ignores   *fakeIgnores
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		memory:    memory.New(memory.Config{BotNick: "glitchy"}, nil, nil),
		queue:     &fakeQueue{},
		transport: &chattest.Recorder{},
		prefs:     &fakePrefs{},
		ignores:   &fakeIgnores{},
	}
	h.router = router.New(router.Config{
		BotNick: "glitchy",
		Now:     func() time.Time { return fixedNow },
	}, router.Deps{
		Memory:     h.memory,
		Limits:     ratelimit.New(ratelimit.Config{}),
		Dispatcher: h.queue,
		Transport:  h.transport,
		Prefs:      h.prefs,
		Ignores:    h.ignores,
	})
	return h
}

func channelEvent(nick, text string) chat.Event {
	return chat.Event{Target: "#dev", Nick: nick, Text: text}
}

func directEvent(nick, text string, privileged bool) chat.Event {
	return chat.Event{Target: "!dm-" + nick, Nick: nick, Text: text, Direct: true, Privileged: privileged}
}

func (h *harness) handle(t *testing.T, ev chat.Event, want router.Outcome) {
	t.Helper()
	if got := h.router.Handle(context.Background(), ev); got != want {
		t.Fatalf("Handle(%q) = %v, want %v", ev.Text, got, want)
	}
}

// --- tests ---

func TestHandle_ReviewInChannel(t *testing.T) {
	h := newHarness(t)
	h.handle(t, channelEvent("bob", "the new redesign looks cleaner but the nav is confusing"), router.OutcomeAmbient)
	h.handle(t, channelEvent("carol", "agreed, the sidebar moved for no reason"), router.OutcomeAmbient)
	h.handle(t, channelEvent("alice", "glitchy what do you think about the redesign"), router.OutcomeQueued)

	tasks := h.queue.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("queued %d tasks, want 1", len(tasks))
	}
	task := tasks[0]
	if task.Mode != intent.ModeReview {
		t.Errorf("Mode = %q, want review", task.Mode)
	}
	if task.Target != "#dev" || task.Channel != "#dev" || task.Speaker != "alice" {
		t.Errorf("task routing = %q/%q/%q", task.Target, task.Channel, task.Speaker)
	}
	if task.Key != memory.ChannelKey("#dev", "alice") {
		t.Errorf("Key = %v", task.Key)
	}
	if !slices.Contains(persona.Default().LeadIns, task.LeadIn) {
		t.Errorf("LeadIn %q is not one of the persona lead-ins", task.LeadIn)
	}

	msgs := task.Messages
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != persona.Default().ReviewPrompt {
		t.Errorf("first message = %+v, want the review prompt", msgs[0])
	}
	for _, want := range []string{"Recent chat in #dev", "bob: the new redesign", "carol: agreed"} {
		if !strings.Contains(msgs[1].Content, want) {
			t.Errorf("background missing %q:\n%s", want, msgs[1].Content)
		}
	}
	if last := msgs[2]; last.Role != llm.RoleUser || last.Content != "alice: what do you think about the redesign" {
		t.Errorf("last message = %+v", last)
	}

	hist := h.memory.History(memory.ChannelKey("#dev", "alice"))
	if len(hist) != 1 || hist[0].Text != "what do you think about the redesign" {
		t.Errorf("requester history = %+v", hist)
	}
}

func TestHandle_PlainPromptCarriesOwnHistory(t *testing.T) {
	h := newHarness(t)
	key := memory.DirectKey("alice")
	h.memory.Append(key, "alice", "my cat is called Pixel", true)
	h.memory.Append(key, "glitchy", "cute name!", true)

	h.handle(t, directEvent("alice", "what is my cat called", false), router.OutcomeQueued)

	msgs := h.queue.Tasks()[0].Messages
	var contents []string
	for _, m := range msgs[1:] {
		contents = append(contents, string(m.Role)+"|"+m.Content)
	}
	want := []string{
		"user|my cat is called Pixel",
		"assistant|cute name!",
		"user|what is my cat called",
	}
	if !slices.Equal(contents, want) {
		t.Errorf("messages = %q, want %q", contents, want)
	}
	if task := h.queue.Tasks()[0]; task.Channel != "direct:alice" || task.LeadIn != "" {
		t.Errorf("task = %+v", task)
	}
}

func TestHandle_RateLimitExemptsTime(t *testing.T) {
	h := newHarness(t)
	h.handle(t, channelEvent("alice", "glitchy: hello"), router.OutcomeQueued)
	h.handle(t, channelEvent("bob", "glitchy: tell me a joke"), router.OutcomeRateLimited)
	h.handle(t, channelEvent("bob", "glitchy: what time is it"), router.OutcomeAnswered)

	if n := len(h.queue.Tasks()); n != 1 {
		t.Errorf("queued %d tasks, want 1", n)
	}
	// The limited line is still remembered.
	hist := h.memory.History(memory.ChannelKey("#dev", "bob"))
	if len(hist) == 0 || !strings.Contains(hist[0].Text, "tell me a joke") {
		t.Errorf("bob's history = %+v", hist)
	}
	texts := h.transport.Texts()
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "bob: it's 15:04 on Sat 14 Mar 2026 UTC") {
		t.Errorf("sent = %q", texts)
	}
}

func TestHandle_QueueSaturated(t *testing.T) {
	h := newHarness(t)
	h.queue.err = dispatch.ErrQueueSaturated
	h.handle(t, channelEvent("alice", "glitchy: hello"), router.OutcomeBusy)

	want := "alice: " + persona.Default().Notice(persona.NoticeBusy, nil)
	if texts := h.transport.Texts(); !slices.Equal(texts, []string{want}) {
		t.Errorf("sent = %q, want %q", texts, want)
	}
}

func TestHandle_StoppedDispatcherIsSilent(t *testing.T) {
	h := newHarness(t)
	h.queue.err = dispatch.ErrStopped
	h.handle(t, channelEvent("alice", "glitchy: hello"), router.OutcomeBusy)
	if texts := h.transport.Texts(); len(texts) != 0 {
		t.Errorf("sent = %q, want nothing", texts)
	}
}

func TestHandle_AmbientAndNoise(t *testing.T) {
	h := newHarness(t)
	h.handle(t, channelEvent("bob", "anyone up for lunch"), router.OutcomeAmbient)
	h.handle(t, channelEvent("bob", "my code is glitchy"), router.OutcomeAmbient)
	h.handle(t, channelEvent("bob", ""), router.OutcomeIgnored)

	hist := h.memory.History(memory.ChannelKey("#dev", "bob"))
	if len(hist) != 1 || !strings.Contains(hist[0].Text, "anyone up for lunch") || !strings.Contains(hist[0].Text, "my code is glitchy") {
		t.Errorf("history = %+v, want one coalesced entry", hist)
	}
	if len(h.queue.Tasks()) != 0 || len(h.transport.Lines()) != 0 {
		t.Error("ambient lines must not be answered")
	}
}

func TestHandle_EmoteRotation(t *testing.T) {
	h := newHarness(t)
	ev := channelEvent("alice", "pets glitchy")
	ev.Action = true

	for range 4 {
		h.handle(t, ev, router.OutcomeEmote)
	}
	phrases := persona.Default().EmotePhrases("pet")
	var got []string
	for _, l := range h.transport.Lines() {
		if l.Op != "action" || l.Target != "#dev" {
			t.Fatalf("unexpected line %+v", l)
		}
		got = append(got, l.Text)
	}
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Errorf("phrase repeated back to back: %q", got[i])
		}
	}
	if want := persona.Render(phrases[0], map[string]string{"nick": "alice"}); got[0] != want {
		t.Errorf("first emote = %q, want %q", got[0], want)
	}
}

func TestHandle_TimePreferences(t *testing.T) {
	h := newHarness(t)
	h.handle(t, channelEvent("alice", "glitchy: what time is it"), router.OutcomeAnswered)
	h.handle(t, channelEvent("alice", "glitchy: my timezone is europe/berlin"), router.OutcomeAnswered)
	h.handle(t, channelEvent("alice", "glitchy: what time is it"), router.OutcomeAnswered)
	h.handle(t, channelEvent("alice", "glitchy: use 12h please"), router.OutcomeAnswered)
	h.handle(t, channelEvent("alice", "glitchy: what time is it"), router.OutcomeAnswered)
	h.handle(t, channelEvent("alice", "glitchy: my timezone is Atlantis"), router.OutcomeAnswered)

	texts := h.transport.Texts()
	if len(texts) != 6 {
		t.Fatalf("sent %d lines, want 6: %q", len(texts), texts)
	}
	checks := []string{
		"tell me your timezone",
		"your timezone is Europe/Berlin",
		"it's 16:04 on Sat 14 Mar 2026 (Europe/Berlin)",
		"12h clock",
		"it's 4:04 PM on Sat 14 Mar 2026 (Europe/Berlin)",
		"don't know the timezone Atlantis",
	}
	for i, want := range checks {
		if !strings.HasPrefix(texts[i], "alice: ") || !strings.Contains(texts[i], want) {
			t.Errorf("line %d = %q, want it to contain %q", i, texts[i], want)
		}
	}
	if len(h.queue.Tasks()) != 0 {
		t.Error("time and preference lines must not be dispatched")
	}
	if p, _ := h.prefs.GetPreference(context.Background(), "alice"); p.Timezone != "Europe/Berlin" || p.TimeFormat != store.TimeFormat12h {
		t.Errorf("stored preference = %+v", p)
	}
}

func TestHandle_ResidenceRemarks(t *testing.T) {
	h := newHarness(t)
	h.handle(t, channelEvent("alice", "glitchy i'm in a/b testing hell, how do I pick a sample size?"), router.OutcomeQueued)
	if texts := h.transport.Texts(); len(texts) != 0 {
		t.Errorf("a remark that only looks like a zone must not be answered inline: %q", texts)
	}
	if n := len(h.queue.Tasks()); n != 1 {
		t.Fatalf("queued %d tasks, want 1", n)
	}
	if _, err := h.prefs.GetPreference(context.Background(), "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetPreference err = %v, want ErrNotFound", err)
	}

	h.handle(t, channelEvent("bob", "glitchy: i live in america/new_york"), router.OutcomeAnswered)
	if p, _ := h.prefs.GetPreference(context.Background(), "bob"); p.Timezone != "America/New_York" {
		t.Errorf("stored preference = %+v", p)
	}
	if n := len(h.queue.Tasks()); n != 1 {
		t.Errorf("queued %d tasks after a resolvable zone, want 1", n)
	}
}

func TestHandle_IgnoredNicks(t *testing.T) {
	h := newHarness(t)
	h.ignores.nicks = []string{"spammer"}
	if err := h.router.LoadIgnored(context.Background()); err != nil {
		t.Fatalf("LoadIgnored: %v", err)
	}

	h.handle(t, channelEvent("Spammer", "glitchy: hello"), router.OutcomeIgnoredNick)

	admin := channelEvent("Spammer", "glitchy: hello")
	admin.Privileged = true
	h.handle(t, admin, router.OutcomeQueued)
}

func TestCommands(t *testing.T) {
	p := persona.Default()
	tests := []struct {
		name      string
		ev        chat.Event
		transport error
		wantSent  []string
		wantOps   []chattest.Line
	}{
		{
			name:     "help in channel",
			ev:       channelEvent("alice", "glitchy: .help"),
			wantSent: []string{"alice: " + p.Notice(persona.NoticeHelp, map[string]string{"prefix": "."})},
		},
		{
			name:     "reset own history",
			ev:       directEvent("alice", ".reset", false),
			wantSent: []string{p.Notice(persona.NoticeResetSelf, nil)},
		},
		{
			name:     "room reset refused silently in channel",
			ev:       chat.Event{Target: "#dev", Nick: "root", Text: "glitchy: .reset #dev", Privileged: true},
			wantSent: nil,
		},
		{
			name:     "join denied silently in channel",
			ev:       chat.Event{Target: "#dev", Nick: "root", Text: "glitchy: .join #ops", Privileged: true},
			wantSent: nil,
		},
		{
			name:     "join denied for unprivileged in private",
			ev:       directEvent("alice", ".join #ops", false),
			wantSent: []string{p.Notice(persona.NoticeDenied, nil)},
		},
		{
			name:     "join with key",
			ev:       directEvent("root", ".join #ops secret", true),
			wantSent: []string{"joined #ops"},
			wantOps:  []chattest.Line{{Op: "join", Target: "#ops", Text: "secret"}},
		},
		{
			name:     "part",
			ev:       directEvent("root", ".part #ops", true),
			wantSent: []string{"left #ops"},
			wantOps:  []chattest.Line{{Op: "part", Target: "#ops"}},
		},
		{
			name:     "part usage",
			ev:       directEvent("root", ".part", true),
			wantSent: []string{"usage: .part <room>"},
		},
		{
			name:      "join failure",
			ev:        directEvent("root", ".join #locked", true),
			transport: errors.New("forbidden"),
			wantSent:  []string{"couldn't do that: forbidden"},
			wantOps:   []chattest.Line{{Op: "join", Target: "#locked"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.transport.Err = tt.transport
			h.handle(t, tt.ev, router.OutcomeCommand)

			if got := h.transport.Texts(); !slices.Equal(got, tt.wantSent) {
				t.Errorf("sent = %q, want %q", got, tt.wantSent)
			}
			var ops []chattest.Line
			for _, l := range h.transport.Lines() {
				if l.Op != "send" {
					ops = append(ops, l)
				}
			}
			if !slices.Equal(ops, tt.wantOps) {
				t.Errorf("ops = %+v, want %+v", ops, tt.wantOps)
			}
		})
	}
}

func TestCommand_ResetClearsHistory(t *testing.T) {
	h := newHarness(t)
	h.handle(t, channelEvent("alice", "the build is red again"), router.OutcomeAmbient)
	h.handle(t, channelEvent("bob", "blame the flaky test"), router.OutcomeAmbient)

	h.handle(t, channelEvent("alice", "glitchy: .reset"), router.OutcomeCommand)
	if hist := h.memory.History(memory.ChannelKey("#dev", "alice")); len(hist) != 0 {
		t.Errorf("alice's history survived the reset: %+v", hist)
	}
	if hist := h.memory.History(memory.ChannelKey("#dev", "bob")); len(hist) != 1 {
		t.Errorf("bob's history = %+v, want untouched", hist)
	}

	h.handle(t, directEvent("root", ".reset #dev", true), router.OutcomeCommand)
	if hist := h.memory.History(memory.ChannelKey("#dev", "bob")); len(hist) != 0 {
		t.Errorf("bob's history survived the room reset: %+v", hist)
	}
	texts := h.transport.Texts()
	if len(texts) != 2 || texts[1] != "history reset for #dev" {
		t.Errorf("sent = %q", texts)
	}
}

func TestCommand_IgnoreLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, directEvent("root", ".ignored", true), router.OutcomeCommand)
	h.handle(t, directEvent("root", ".ignore Bob", true), router.OutcomeCommand)
	h.handle(t, channelEvent("BOB", "glitchy: hello"), router.OutcomeIgnoredNick)
	h.handle(t, directEvent("root", ".ignored", true), router.OutcomeCommand)

	if got, _ := h.ignores.ListIgnored(ctx); !slices.Equal(got, []string{"bob"}) {
		t.Errorf("persisted ignores = %q", got)
	}

	h.handle(t, directEvent("root", ".unignore bob", true), router.OutcomeCommand)
	h.handle(t, channelEvent("bob", "glitchy: hello"), router.OutcomeQueued)

	if got, _ := h.ignores.ListIgnored(ctx); len(got) != 0 {
		t.Errorf("persisted ignores = %q, want none", got)
	}
	want := []string{"nobody is ignored", "ignoring bob", "ignored: bob", "no longer ignoring bob"}
	if got := h.transport.Texts(); !slices.Equal(got, want) {
		t.Errorf("sent = %q, want %q", got, want)
	}
}
