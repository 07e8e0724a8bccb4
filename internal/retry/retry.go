// Package retry runs an operation until it succeeds, with backoff between
// attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string { return e.Err.Error() }
func (e *Permanent) Unwrap() error { return e.Err }

// Stop wraps err so Do returns it without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Backoff returns the delay before attempt n (n >= 1).
type Backoff func(n int) time.Duration

// Exponential doubles base on each attempt, capped at limit (0 = no cap).
// For example with base=1s and limit=5s: 1s, 2s, 4s, 5s, 5s...
func Exponential(base, limit time.Duration) Backoff {
	return func(n int) time.Duration {
		d := base
		for i := 1; i < n; i++ {
			d *= 2
			if limit > 0 && d >= limit {
				return limit
			}
		}
		if limit > 0 && d > limit {
			return limit
		}
		return d
	}
}

// Constant waits d between attempts.
// The first attempt still runs immediately.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Policy bounds the attempts of an operation.
type Policy struct {
	// Attempts is the total number of tries; values below 1 mean 1.
	Attempts int

	// Backoff returns the delay after the nth failed attempt.
	// If nil, defaults to Exponential(500ms, 30s).
	Backoff Backoff

	// OnRetry, when set, observes every failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls fn until it returns nil or a Permanent error. It gives up when
// the attempts run out or ctx is done, whichever comes first.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential(500*time.Millisecond, 30*time.Second)
	}

	var err error
	for n := 1; ; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		// Check if error is permanent
		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if n >= attempts {
			break
		}

		// Wait before the next attempt, unless the caller gives up first
		wait := backoff(n)
		if p.OnRetry != nil {
			p.OnRetry(n, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", n, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}
