// Package retry provides bounded exponential backoff with jitter for
// transient upstream failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Class decides how an error is handled by Do.
type Class int

const (
	Retryable Class = iota
	Fatal
)

// Policy configures retry behavior.
type Policy struct {
	MaxAttempts int           // 0 means retry forever
	BaseDelay   time.Duration // first backoff step
	MaxDelay    time.Duration // backoff cap
	Jitter      time.Duration // uniform random addition per wait

	// Classify decides whether an error is retryable.
	// If nil, every non-nil error is retried.
	Classify func(error) Class

	// OnRetry is an optional hook for logging/metrics.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do runs fn until it succeeds, the error classifies as Fatal, attempts are
// exhausted, or ctx is cancelled. With MaxAttempts == 0 it retries without
// bound, which is the adapter contract for stream (re)establishment.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}

	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Retryable }
	}

	var lastErr error
	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == Fatal {
			return err
		}
		if p.MaxAttempts != 0 && attempt == p.MaxAttempts {
			break
		}

		wait := Backoff(p.BaseDelay, p.MaxDelay, attempt)
		if p.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.Jitter)))
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = errors.New("retry: exhausted with no error")
	}
	return lastErr
}

// Backoff returns the capped exponential delay for the given attempt (1-based).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shift saturates instead of overflowing for large attempt counts.
	if attempt > 30 {
		return max
	}
	wait := base << (attempt - 1)
	if wait > max || wait <= 0 {
		wait = max
	}
	return wait
}
