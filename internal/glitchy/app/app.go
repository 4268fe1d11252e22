// Package app wires the bot together and runs it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/glitchy/common/version"
	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/config"
	"github.com/bdobrica/glitchy/internal/glitchy/dispatch"
	"github.com/bdobrica/glitchy/internal/glitchy/llm"
	"github.com/bdobrica/glitchy/internal/glitchy/matrix"
	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/metrics"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
	"github.com/bdobrica/glitchy/internal/glitchy/ratelimit"
	"github.com/bdobrica/glitchy/internal/glitchy/router"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

// App is the running bot.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.Backend
	memory     *memory.Store
	metrics    *metrics.Metrics
	dispatcher *dispatch.Dispatcher
	router     *router.Router
	matrix     *matrix.Client
	health     *HealthServer
}

// New opens the store and builds every component.  Nothing touches the
// network until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := persona.Default()
	if cfg.PersonaFile != "" {
		var err error
		if p, err = persona.Load(cfg.PersonaFile); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	logger.Info("store ready", "kind", cfg.Store.Kind)

	mcfg := cfg.Matrix
	mcfg.SyncState = backend
	mx, err := matrix.New(mcfg, logger.With("component", "matrix"))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, store: backend, matrix: mx}
	a.metrics = metrics.New()
	a.memory = memory.New(cfg.Memory, backend, logger.With("component", "memory"))
	limits := ratelimit.New(cfg.Limits)

	dcfg := cfg.Dispatch
	dcfg.Apology = p.Notice(persona.NoticeApology, nil)
	a.dispatcher = dispatch.New(dcfg, dispatch.Deps{
		Model:     llm.New(cfg.LLM),
		Transport: mx,
		Memory:    a.memory,
		Gate:      limits,
		Metrics:   a.metrics,
		Logger:    logger.With("component", "dispatch"),
	})

	a.router = router.New(cfg.Router, router.Deps{
		Memory:     a.memory,
		Limits:     limits,
		Dispatcher: a.dispatcher,
		Transport:  mx,
		Persona:    p,
		Prefs:      backend,
		Ignores:    backend,
		Metrics:    a.metrics,
		Logger:     logger.With("component", "router"),
	})
	if err := a.router.LoadIgnored(ctx); err != nil {
		logger.Warn("could not load ignore list, starting empty", "err", err)
	}

	if cfg.HealthAddr != "" {
		a.health = NewHealthServer(cfg.HealthAddr, a, a.metrics.Handler())
		logger.Info("health server configured", "addr", cfg.HealthAddr)
	}
	return a, nil
}

// Run starts the workers, the health server and the Matrix sync, then
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	a.dispatcher.Start(ctx)

	a.logger.Info("starting Matrix sync", "user", a.matrix.UserID(), "nick", a.cfg.Router.BotNick)
	if err := a.matrix.Start(ctx, a.handle); err != nil {
		return fmt.Errorf("app: start matrix: %w", err)
	}

	a.logger.Info("glitchy is running", "version", version.Info())
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Close stops everything in dependency order: inbound first, then the
// workers, then the store.
func (a *App) Close() {
	a.matrix.Stop()
	if err := a.dispatcher.Stop(); err != nil {
		a.logger.Warn("dispatcher stopped with error", "err", err)
	}
	if a.health != nil {
		a.health.Stop()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "err", err)
	}
}

func (a *App) handle(ctx context.Context, ev chat.Event) {
	outcome := a.router.Handle(ctx, ev)
	a.logger.Debug("event handled", "target", ev.Target, "nick", ev.Nick, "outcome", outcome.String())
}

// Status implements statusProvider.
func (a *App) Status(ctx context.Context) Status {
	conversations, entries := a.memory.Stats()
	st := Status{
		QueueDepth:    a.dispatcher.QueueDepth(),
		Conversations: conversations,
		Entries:       entries,
		IgnoredNicks:  len(a.router.Ignored().List()),
		Store:         "ok",
	}

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.store.Ping(pctx); err != nil {
		st.Store = err.Error()
	}

	if snap, err := a.metrics.Snapshot(); err != nil {
		a.logger.Warn("metrics snapshot failed", "err", err)
	} else {
		st.Counters = snap
	}
	return st
}
