// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"archivist/internal/config"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is the backoff policy. The delay before attempt n+1 is
// min(InitialDelay * BackoffFactor^n, MaxDelay) with n counted from zero.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is 3 attempts with 1s, 2s backoff capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		BackoffFactor: 2,
		MaxDelay:      10 * time.Second,
	}
}

// FromConfig builds a Policy from the pipeline retry section.
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxRetries:    c.MaxRetries,
		InitialDelay:  c.InitialDelay,
		BackoffFactor: c.BackoffFactor,
		MaxDelay:      c.MaxDelay,
	}
}

// Delay returns the wait after the attempt with zero-based index n.
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(n))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Error carries the number of attempts and the last failure.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Do calls fn until it returns nil, MaxRetries attempts have failed, or ctx is
// done. fn receives the zero-based attempt number. Context errors are returned
// as-is and never retried.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}
	return &Error{Attempts: attempts, Err: lastErr}
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
