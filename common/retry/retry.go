// Package retry provides exponential-backoff retry logic for transient errors.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Second}, func(attempt int) error {
//	    return client.Call()
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	// Subsequent delays are doubled up to MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait (jitter excluded).
	MaxDelay time.Duration
	// Jitter is the upper bound of a uniformly random extra wait added to
	// every backoff sleep.  Zero disables jitter.
	Jitter time.Duration
	// ShouldRetry is an optional predicate that lets callers classify errors
	// as retryable.  When nil, all non-nil errors are retried.  Errors wrapped
	// with Immediately are always retried.
	ShouldRetry func(err error) bool
	// Sleep waits for d or until ctx is done.  Tests replace it to avoid
	// real delays; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig provides sensible defaults for short-lived network calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// immediateError marks an error whose next attempt should start without a
// backoff sleep.
type immediateError struct {
	err error
}

func (e *immediateError) Error() string { return e.err.Error() }
func (e *immediateError) Unwrap() error { return e.err }

// Immediately wraps err so that Do retries at once, still consuming an
// attempt but neither sleeping nor doubling the delay.  Used when the caller
// has already switched strategy (e.g. a fallback endpoint).
func Immediately(err error) error {
	if err == nil {
		return nil
	}
	return &immediateError{err: err}
}

// Do calls fn up to cfg.MaxAttempts times, backing off exponentially between
// attempts.  fn receives the 1-based attempt number.  It stops early when ctx
// is cancelled or fn returns nil.  The error from the last attempt is
// returned, unwrapped from Immediately.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return true }
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		var imm *immediateError
		immediate := errors.As(err, &imm)
		if immediate {
			lastErr = imm.err
		} else {
			lastErr = err
		}

		if !immediate && !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts || immediate {
			continue
		}

		wait := delay
		if cfg.Jitter > 0 {
			wait += rand.N(cfg.Jitter)
		}
		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", lastErr, "delay", wait)

		if err := sleep(ctx, wait); err != nil {
			return errors.Join(lastErr, err)
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
