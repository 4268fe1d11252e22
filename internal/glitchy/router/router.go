// Package router is the per-event entry point.
//
// Handle classifies an inbound line, answers what can be answered on the spot
// (emotes, commands, time queries, preference changes), records context, and
// turns accepted addresses into dispatch tasks.  It never blocks on the model
// backend and never returns an error: every failure becomes an Outcome, a
// short notice, or a log line.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/dispatch"
	"github.com/bdobrica/glitchy/internal/glitchy/intent"
	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/metrics"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

// Outcome is what Handle did with an event.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeNoise
	OutcomeIgnoredNick
	OutcomeAmbient
	OutcomeEmote
	OutcomeCommand
	OutcomeAnswered
	OutcomeRateLimited
	OutcomeBusy
	OutcomeQueued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNoise:
		return "noise"
	case OutcomeIgnoredNick:
		return "ignored_nick"
	case OutcomeAmbient:
		return "ambient"
	case OutcomeEmote:
		return "emote"
	case OutcomeCommand:
		return "command"
	case OutcomeAnswered:
		return "answered"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeBusy:
		return "busy"
	case OutcomeQueued:
		return "queued"
	}
	return "unknown"
}

// Preferences is the durable per-user time settings table.
type Preferences interface {
	GetPreference(ctx context.Context, nick string) (store.Preference, error)
	UpsertPreference(ctx context.Context, p store.Preference) error
}

// IgnoreStore is the durable admin ignore list.
type IgnoreStore interface {
	ListIgnored(ctx context.Context) ([]string, error)
	AddIgnored(ctx context.Context, nick string) error
	RemoveIgnored(ctx context.Context, nick string) error
}

// Admitter gates accepted requests per scope and mode.
type Admitter interface {
	Admit(scope string, mode intent.Mode) bool
}

// Enqueuer accepts dispatch tasks without blocking.
type Enqueuer interface {
	Enqueue(t dispatch.Task) error
}

// Config holds the Router settings.
type Config struct {
	BotNick           string
	CommandPrefix     string
	DisableHeuristics bool

	// ContextTurns bounds the per-user history in a prompt.  Default: 12.
	ContextTurns int
	// BackgroundChars and BackgroundLines bound the channel background in
	// plain and search prompts.  Defaults: 1200 and 20.
	BackgroundChars int
	BackgroundLines int
	// ReviewChars and ReviewLines bound the background of a review.
	// Defaults: 4000 and 80.
	ReviewChars int
	ReviewLines int

	// Now replaces the clock in tests.
	Now func() time.Time
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CommandPrefix:   intent.DefaultCommandPrefix,
		ContextTurns:    12,
		BackgroundChars: 1200,
		BackgroundLines: 20,
		ReviewChars:     4000,
		ReviewLines:     80,
		Now:             time.Now,
	}
}

// Deps are the Router's collaborators.  Prefs, Ignores, Metrics and Logger
// may be nil.
type Deps struct {
	Memory     *memory.Store
	Limits     Admitter
	Dispatcher Enqueuer
	Transport  chat.Transport
	Persona    *persona.Persona
	Prefs      Preferences
	Ignores    IgnoreStore
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Router routes inbound events.
type Router struct {
	cfg      Config
	deps     Deps
	ignored  *IgnoreSet
	commands map[string]commandEntry

	emoteMu sync.Mutex
	emotes  map[emoteKey]int // last phrase index per (nick, verb)
}

// New creates a Router.
func New(cfg Config, deps Deps) *Router {
	def := DefaultConfig()
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = def.CommandPrefix
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = def.ContextTurns
	}
	if cfg.BackgroundChars <= 0 {
		cfg.BackgroundChars = def.BackgroundChars
	}
	if cfg.BackgroundLines <= 0 {
		cfg.BackgroundLines = def.BackgroundLines
	}
	if cfg.ReviewChars <= 0 {
		cfg.ReviewChars = def.ReviewChars
	}
	if cfg.ReviewLines <= 0 {
		cfg.ReviewLines = def.ReviewLines
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if deps.Persona == nil {
		deps.Persona = persona.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := &Router{
		cfg:     cfg,
		deps:    deps,
		ignored: NewIgnoreSet(),
		emotes:  make(map[emoteKey]int),
	}
	r.registerCommands()
	return r
}

// Ignored returns the in-memory ignore set.
func (r *Router) Ignored() *IgnoreSet { return r.ignored }

// LoadIgnored fills the ignore set from the durable store.
func (r *Router) LoadIgnored(ctx context.Context) error {
	if r.deps.Ignores == nil {
		return nil
	}
	nicks, err := r.deps.Ignores.ListIgnored(ctx)
	if err != nil {
		return err
	}
	r.ignored.Replace(nicks)
	r.deps.Logger.Info("router: ignore list loaded", "count", len(nicks))
	return nil
}

// scope is the rate-limit scope of ev: the channel, or the private
// conversation.
func scope(ev chat.Event) string {
	if ev.Direct {
		return "direct:" + strings.ToLower(ev.Nick)
	}
	return ev.Target
}

func conversationKey(ev chat.Event) memory.Key {
	if ev.Direct {
		return memory.DirectKey(ev.Nick)
	}
	return memory.ChannelKey(ev.Target, ev.Nick)
}

// Handle processes one inbound event.
func (r *Router) Handle(ctx context.Context, ev chat.Event) Outcome {
	log := r.deps.Logger.With("target", ev.Target, "nick", ev.Nick)

	if !ev.Privileged && r.ignored.Contains(ev.Nick) {
		log.Debug("router: sender is ignored")
		return OutcomeIgnoredNick
	}

	res := intent.Classify(intent.Input{
		Line:              ev.Text,
		BotNick:           r.cfg.BotNick,
		Direct:            ev.Direct,
		Action:            ev.Action,
		CommandPrefix:     r.cfg.CommandPrefix,
		DisableHeuristics: r.cfg.DisableHeuristics,
	})
	r.deps.Metrics.Classified(res.Kind.String())
	log.Debug("router: classified", "kind", res.Kind.String(), "rule", res.Rule, "mode", string(res.Mode))

	switch res.Kind {
	case intent.KindNoise:
		return OutcomeNoise
	case intent.KindIgnored:
		return OutcomeIgnored
	case intent.KindEmote:
		r.answerEmote(ctx, ev, res.EmoteVerb)
		return OutcomeEmote
	case intent.KindCommand:
		r.runCommand(ctx, ev, res.Command, res.Args, log)
		return OutcomeCommand
	case intent.KindAmbient:
		if !ev.Direct {
			r.deps.Memory.Append(conversationKey(ev), ev.Nick, res.Message, false)
		}
		return OutcomeAmbient
	}

	return r.handleAddress(ctx, ev, res, log)
}

func (r *Router) handleAddress(ctx context.Context, ev chat.Event, res intent.Result, log *slog.Logger) Outcome {
	key := conversationKey(ev)
	mem := r.deps.Memory

	// Preference statements are answered on the spot, unless the line also
	// asks for the time, which is answered with the new settings.
	changed, notice := r.detectPreferences(ctx, ev, res.Message, log)
	if changed && res.Mode != intent.ModeTime {
		mem.Append(key, ev.Nick, res.Message, true)
		r.reply(ctx, ev, notice)
		return OutcomeAnswered
	}

	if !r.deps.Limits.Admit(scope(ev), res.Mode) {
		gate := "channel"
		if res.Mode == intent.ModeReview {
			gate = "review"
		}
		r.deps.Metrics.RateLimited(gate)
		mem.Append(key, ev.Nick, res.Message, true)
		log.Info("router: request rate limited", "mode", string(res.Mode), "gate", gate)
		return OutcomeRateLimited
	}

	if res.Mode == intent.ModeTime {
		mem.Append(key, ev.Nick, res.Message, true)
		r.reply(ctx, ev, r.timeReply(ctx, ev))
		mem.MarkResponded(key, r.cfg.Now())
		return OutcomeAnswered
	}

	messages, leadIn := r.buildMessages(ctx, ev, key, res)
	mem.Append(key, ev.Nick, res.Message, true)

	task := dispatch.Task{
		Key:        key,
		Speaker:    ev.Nick,
		Messages:   messages,
		Mode:       res.Mode,
		Target:     ev.Target,
		Channel:    scope(ev),
		Privileged: ev.Privileged,
		Direct:     ev.Direct,
		LeadIn:     leadIn,
	}
	if err := r.deps.Dispatcher.Enqueue(task); err != nil {
		if errors.Is(err, dispatch.ErrQueueSaturated) {
			log.Warn("router: dispatch queue saturated")
			r.reply(ctx, ev, r.deps.Persona.Notice(persona.NoticeBusy, nil))
		} else {
			log.Error("router: enqueue failed", "err", err)
		}
		return OutcomeBusy
	}

	mem.LogTurn(ctx, ev.Nick, memory.RoleUser, res.Message)
	log.Info("router: request queued", "mode", string(res.Mode), "rule", res.Rule)
	return OutcomeQueued
}

// reply sends text to ev's conversation, addressed to the sender in channels.
func (r *Router) reply(ctx context.Context, ev chat.Event, text string) {
	if text == "" {
		return
	}
	if !ev.Direct {
		text = ev.Nick + ": " + text
	}
	chat.Notify(ctx, r.deps.Transport, ev.Target, text, r.deps.Logger)
}
