// Package retry provides a bounded retry-with-backoff combinator shared by
// chunk writes and adapter page fetches. Scheduling is delegated to
// github.com/cenkalti/backoff/v4.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff builds a fresh schedule for one Do call. Schedules are stateful,
// so a Policy holds the constructor rather than the schedule itself.
type Backoff func() backoff.BackOff

// Policy controls Do.
type Policy struct {
	MaxAttempts int
	Delay       Backoff
	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything except Permanent errors.
	Retryable func(error) bool
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error)
}

// Permanent wraps err so Do stops immediately and returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// ExhaustedError is returned when all attempts failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Exponential doubles base on every retry, capped at max. A non-positive
// max leaves the growth uncapped.
func Exponential(base, max time.Duration) Backoff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.MaxInterval = max
		if max <= 0 {
			b.MaxInterval = time.Duration(math.MaxInt64)
		}
		b.Reset()
		return b
	}
}

// Constant waits d between every attempt.
func Constant(d time.Duration) Backoff {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(d)
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// is cancelled, or MaxAttempts is reached.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		attempt int
		lastErr error
		stopped bool
	)
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			stopped = true
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			stopped = true
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}
	notify := func(err error, _ time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	}

	var schedule backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Delay != nil {
		schedule = p.Delay()
	}
	schedule = backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(attempts-1)), ctx)

	err := backoff.RetryNotify(operation, schedule, notify)
	switch {
	case err == nil:
		return nil
	case stopped:
		return err
	case ctx.Err() != nil:
		if lastErr != nil {
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		}
		return ctx.Err()
	default:
		return &ExhaustedError{Attempts: attempt, Err: err}
	}
}
