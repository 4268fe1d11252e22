// Package ratelimit enforces the bot's response cooldowns.
//
// Two gates exist.  Admit runs when an address is accepted, before anything
// is queued: it spaces out answers per channel (a shorter window for plain and
// search answers, a longer independent one for reviews; time queries are
// exempt).  AllowSend runs after a reply has been generated, immediately
// before it is posted, and spaces out replies to the same user so a backlog
// of queued answers does not arrive as a burst.
package ratelimit

import (
	"sync"
	"time"

	"github.com/bdobrica/glitchy/internal/glitchy/intent"
)

const (
	// DefaultChannelCooldown is the minimum gap between plain/search answers
	// in one channel.
	DefaultChannelCooldown = 4 * time.Second
	// DefaultReviewCooldown is the minimum gap between review answers in one
	// channel.
	DefaultReviewCooldown = 30 * time.Second
	// DefaultUserWindow is the minimum gap between two replies to the same
	// user in one channel.
	DefaultUserWindow = 2 * time.Second
)

// Config holds the cooldown durations.  Zero values use the defaults.
type Config struct {
	ChannelCooldown time.Duration
	ReviewCooldown  time.Duration
	UserWindow      time.Duration
}

type scopeState struct {
	mu         sync.Mutex
	lastPlain  time.Time
	lastReview time.Time
	lastSend   map[string]time.Time
}

// Controller holds cooldown state per scope (a channel, or a private
// conversation).  It is safe for concurrent use.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	scopes map[string]*scopeState
}

// New returns a Controller.
func New(cfg Config) *Controller {
	if cfg.ChannelCooldown <= 0 {
		cfg.ChannelCooldown = DefaultChannelCooldown
	}
	if cfg.ReviewCooldown <= 0 {
		cfg.ReviewCooldown = DefaultReviewCooldown
	}
	if cfg.UserWindow <= 0 {
		cfg.UserWindow = DefaultUserWindow
	}
	return &Controller{cfg: cfg, scopes: make(map[string]*scopeState)}
}

func (c *Controller) scope(name string) *scopeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.scopes[name]
	if s == nil {
		s = &scopeState{lastSend: make(map[string]time.Time)}
		c.scopes[name] = s
	}
	return s
}

// Admit reports whether a request of the given mode may proceed in scope,
// and if so records it.
//
// The expected caller pattern is:
//
//	if !limiter.Admit(room, res.Mode) {
//	    return OutcomeRateLimited
//	}
//	dispatcher.Enqueue(task)
func (c *Controller) Admit(scope string, mode intent.Mode) bool {
	return c.AdmitAt(scope, mode, time.Now())
}

// AdmitAt is the time-injectable core of Admit.
func (c *Controller) AdmitAt(scope string, mode intent.Mode, now time.Time) bool {
	s := c.scope(scope)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch mode {
	case intent.ModeTime:
		s.lastPlain = now
		return true
	case intent.ModeReview:
		if !s.lastReview.IsZero() && now.Sub(s.lastReview) < c.cfg.ReviewCooldown {
			return false
		}
		s.lastReview = now
		return true
	default:
		if !s.lastPlain.IsZero() && now.Sub(s.lastPlain) < c.cfg.ChannelCooldown {
			return false
		}
		s.lastPlain = now
		return true
	}
}

// AllowSend reports whether a reply to nick may be posted in scope now, and
// if so records it.
func (c *Controller) AllowSend(scope, nick string) bool {
	return c.AllowSendAt(scope, nick, time.Now())
}

// AllowSendAt is the time-injectable core of AllowSend.
func (c *Controller) AllowSendAt(scope, nick string, now time.Time) bool {
	s := c.scope(scope)
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSend[nick]; ok && now.Sub(last) < c.cfg.UserWindow {
		return false
	}
	s.lastSend[nick] = now
	return true
}
