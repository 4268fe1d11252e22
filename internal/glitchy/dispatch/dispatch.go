// Package dispatch runs completion requests off the event path.
//
// The Router enqueues a Task; Enqueue never blocks and fails fast with
// ErrQueueSaturated when the queue is full.  A fixed pool of workers takes
// tasks in FIFO order and runs each one to completion: call the model (with
// backoff and, for search tasks, a single downgrade to a plain completion),
// sanitize the reply, record it, and deliver it in folded chunks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/glitchy/common/retry"
	"github.com/bdobrica/glitchy/common/trace"
	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/intent"
	"github.com/bdobrica/glitchy/internal/glitchy/llm"
	"github.com/bdobrica/glitchy/internal/glitchy/logging"
	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/metrics"
	"github.com/bdobrica/glitchy/internal/glitchy/sanitize"
)

var (
	// ErrQueueSaturated is returned by Enqueue when the queue is full.
	ErrQueueSaturated = errors.New("dispatch: queue saturated")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("dispatch: dispatcher stopped")
)

// Task is one accepted request.
type Task struct {
	ID string
	// Key is the conversation the reply is recorded in.
	Key memory.Key
	// Speaker is the requester's nick.
	Speaker string
	// Messages is the full prompt, system message first.
	Messages []llm.Message
	Mode     intent.Mode
	// Target is where the reply is sent.
	Target string
	// Channel scopes the per-user send window.
	Channel    string
	Privileged bool
	Direct     bool
	// LeadIn is prefixed to the reply (review mode).
	LeadIn     string
	EnqueuedAt time.Time
}

// SendGate is consulted right before a reply is posted.
type SendGate interface {
	AllowSend(scope, nick string) bool
}

// Config holds the dispatcher settings.  Zero values use the defaults;
// a negative Jitter or ChunkDelay disables it.
type Config struct {
	Workers   int
	QueueSize int

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         time.Duration

	MaxChunk   int
	ChunkDelay time.Duration

	// Apology is sent when a task fails for good.
	Apology string

	// Sleep replaces the backoff wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        3,
		QueueSize:      32,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		Jitter:         500 * time.Millisecond,
		MaxChunk:       sanitize.MaxChunk,
		ChunkDelay:     chat.DefaultChunkDelay,
		Apology:        "sorry, my brain is lagging right now. try again in a bit",
	}
}

// Deps are the collaborators a Dispatcher needs.  Gate, Metrics and Logger
// may be nil.
type Deps struct {
	Model     llm.Inferencer
	Transport chat.Transport
	Memory    *memory.Store
	Gate      SendGate
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Dispatcher owns the task queue and worker pool.
type Dispatcher struct {
	cfg  Config
	deps Deps

	queue chan Task

	mu      sync.RWMutex // guards stopped and the close of queue
	stopped bool
	group   *errgroup.Group
}

// New creates a Dispatcher.  Call Start to launch the workers.
func New(cfg Config, deps Deps) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = def.Jitter
	} else if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = def.MaxChunk
	}
	if cfg.ChunkDelay == 0 {
		cfg.ChunkDelay = def.ChunkDelay
	} else if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if cfg.Apology == "" {
		cfg.Apology = def.Apology
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	d := &Dispatcher{
		cfg:   cfg,
		deps:  deps,
		queue: make(chan Task, cfg.QueueSize),
	}
	deps.Metrics.RegisterQueueDepth(func() float64 { return float64(d.QueueDepth()) })
	return d
}

// Enqueue adds t to the queue without blocking.
func (d *Dispatcher) Enqueue(t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	if t.ID == "" {
		t.ID = trace.GenerateID()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	select {
	case d.queue <- t:
		return nil
	default:
		d.deps.Metrics.QueueRejected()
		return ErrQueueSaturated
	}
}

// QueueDepth returns the number of tasks waiting.
func (d *Dispatcher) QueueDepth() int { return len(d.queue) }

// Start launches the worker pool.  Workers exit when ctx is cancelled or
// after Stop once the queue is drained.
func (d *Dispatcher) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i + 1
		g.Go(func() error {
			d.work(gctx, worker)
			return nil
		})
	}
	d.mu.Lock()
	d.group = g
	d.mu.Unlock()
	d.deps.Logger.Info("dispatch: workers started", "workers", d.cfg.Workers, "queue", d.cfg.QueueSize)
}

// Stop closes the queue and waits for the workers to finish.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	g := d.group
	d.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, worker, t)
		}
	}
}

// run processes one task.  Nothing escapes it: failures become an apology
// or a log line.
func (d *Dispatcher) run(ctx context.Context, worker int, t Task) {
	ctx = trace.WithTraceID(ctx, t.ID)
	log := logging.WithTrace(ctx, d.deps.Logger).With("worker", worker, "mode", string(t.Mode), "nick", t.Speaker, "target", t.Target)

	defer func() {
		if r := recover(); r != nil {
			d.deps.Metrics.Error(string(t.Mode), "panic")
			log.Error("dispatch: task panicked", "panic", fmt.Sprint(r))
		}
	}()

	log.Debug("dispatch: task started", "waited", time.Since(t.EnqueuedAt))

	reply, err := d.complete(ctx, t, log)
	if err != nil {
		d.deps.Metrics.Error(string(t.Mode), "abandoned")
		log.Error("dispatch: task failed", "err", err)
		if ctx.Err() == nil {
			chat.Notify(ctx, d.deps.Transport, t.Target, d.address(t, d.cfg.Apology), log)
		}
		return
	}
	d.deliver(ctx, t, reply, log)
}

// complete calls the model with retry.  A search task whose first call fails
// switches to the plain endpoint at once and keeps the remaining attempts.
func (d *Dispatcher) complete(ctx context.Context, t Task, log *slog.Logger) (string, error) {
	useSearch := t.Mode == intent.ModeSearch
	var reply string

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  d.cfg.MaxAttempts,
		InitialDelay: d.cfg.InitialBackoff,
		MaxDelay:     d.cfg.MaxBackoff,
		Jitter:       d.cfg.Jitter,
		ShouldRetry:  llm.IsTransient,
		Sleep:        d.cfg.Sleep,
	}, func(attempt int) error {
		endpoint := "plain"
		if useSearch {
			endpoint = "search"
		}
		req := llm.Request{Messages: t.Messages}

		d.deps.Metrics.RequestIssued(endpoint)
		start := time.Now()
		var err error
		if useSearch {
			var citations []string
			reply, citations, err = d.deps.Model.CompleteWithSearch(ctx, req)
			if err == nil {
				log.Debug("dispatch: search reply", "citations", len(citations))
			}
		} else {
			reply, err = d.deps.Model.CompletePlain(ctx, req)
		}
		if err == nil {
			d.deps.Metrics.ObserveRequest(endpoint, "ok", time.Since(start))
			return nil
		}
		d.deps.Metrics.ObserveRequest(endpoint, "error", time.Since(start))
		d.deps.Metrics.Error(endpoint, errorReason(err))
		log.Warn("dispatch: completion attempt failed", "attempt", attempt, "endpoint", endpoint, "err", err)

		if useSearch && !errors.Is(err, context.Canceled) {
			useSearch = false
			d.deps.Metrics.SearchFallback()
			log.Info("dispatch: falling back to plain completion")
			return retry.Immediately(err)
		}
		return err
	})
	return reply, err
}

// deliver post-processes a reply and sends it.
func (d *Dispatcher) deliver(ctx context.Context, t Task, raw string, log *slog.Logger) {
	text, report := sanitize.Clean(strings.TrimSpace(raw))
	if fired := report.Triggered(); len(fired) > 0 {
		d.deps.Metrics.Sanitized(fired...)
		log.Info("dispatch: reply sanitized", "rules", fired)
	}
	text = sanitize.StripCitations(sanitize.SingleLine(text))
	if text == "" {
		d.deps.Metrics.ReplyDropped("empty")
		log.Warn("dispatch: reply empty after sanitation")
		return
	}
	if t.LeadIn != "" {
		text = t.LeadIn + " " + text
	}

	if d.deps.Gate != nil && !d.deps.Gate.AllowSend(t.Channel, strings.ToLower(t.Speaker)) {
		d.deps.Metrics.RateLimited("user")
		d.deps.Metrics.ReplyDropped("user_window")
		log.Info("dispatch: reply dropped by per-user window")
		return
	}

	if mem := d.deps.Memory; mem != nil {
		mem.Append(t.Key, mem.BotNick(), text, true)
		mem.LogTurn(ctx, t.Speaker, memory.RoleAssistant, text)
		mem.MarkResponded(t.Key, time.Now())
	}

	out := d.address(t, text)
	sent := chat.Deliver(ctx, d.deps.Transport, t.Target, out, d.cfg.MaxChunk, d.cfg.ChunkDelay, log)
	log.Info("dispatch: reply delivered", "chunks", sent, "latency", time.Since(t.EnqueuedAt))
}

// address prefixes "nick: " unless the requester is privileged, the
// conversation is private, or the text already names them.
func (d *Dispatcher) address(t Task, text string) string {
	if t.Privileged || t.Direct || t.Speaker == "" {
		return text
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(t.Speaker)) {
		return text
	}
	return t.Speaker + ": " + text
}

func errorReason(err error) string {
	var se *llm.StatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.Code)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrEmptyReply):
		return "empty"
	case llm.IsTransient(err):
		return "network"
	}
	return "other"
}
