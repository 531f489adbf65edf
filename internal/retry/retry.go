// Package retry runs webhook deliveries with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do returns it without another attempt.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type afterError struct {
	err   error
	delay time.Duration
}

func (e *afterError) Error() string { return e.err.Error() }
func (e *afterError) Unwrap() error { return e.err }

// After wraps err with a minimum wait before the next attempt, e.g. a
// receiver's Retry-After.
func After(delay time.Duration, err error) error {
	return &afterError{err: err, delay: delay}
}

// Do calls fn up to maxAttempts times. The wait starts at baseDelay and
// doubles after each failure with +-25% jitter; an After error raises a
// single wait to its delay. Do stops on success, on a Permanent error
// (returned unwrapped), or when ctx ends.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt >= maxAttempts {
			return err
		}

		wait := jittered(delay)
		var ae *afterError
		if errors.As(err, &ae) && ae.delay > wait {
			wait = ae.delay
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func jittered(d time.Duration) time.Duration {
	spread := int64(d / 4)
	if spread <= 0 {
		return d
	}
	return d - time.Duration(spread) + time.Duration(rand.Int64N(2*spread+1))
}
