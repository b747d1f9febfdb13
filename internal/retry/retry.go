// Package retry provides bounded retries with per-attempt backoff for the
// GitHub client. Client errors that can never succeed (bad request, not
// found) are wrapped with Permanent so they fail fast instead of burning
// attempts against the rate limit.
package retry

import (
	"context"
	"errors"
	"time"
)

// DefaultBackoff is the delay schedule between attempts. Polling cadences
// in the engine are short, so the schedule stays well under a poll period.
var DefaultBackoff = []time.Duration{500 * time.Millisecond, 2 * time.Second, 5 * time.Second}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do and DoVal return the
// wrapped error immediately.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type options struct {
	maxAttempts int
	backoff     []time.Duration
	notify      func(attempt int, err error)
}

// Option configures retry behavior.
type Option func(*options)

// WithMaxAttempts sets the total number of attempts, first try included.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithBackoff sets the delays between attempts. When there are more gaps
// than delays, the last delay repeats.
func WithBackoff(delays ...time.Duration) Option {
	return func(o *options) { o.backoff = delays }
}

// WithNotify installs a callback invoked before each re-attempt with the
// attempt number just failed and its error. Used for retry logging.
func WithNotify(fn func(attempt int, err error)) Option {
	return func(o *options) { o.notify = fn }
}

func resolve(opts []Option) options {
	o := options{
		maxAttempts: 3,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Do runs fn until it succeeds, returns a permanent error, the context is
// cancelled, or attempts run out. The last error is returned on
// exhaustion, unwrapped if permanent.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	_, err := DoVal(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	}, opts...)
	return err
}

// DoVal is Do for functions that produce a value.
func DoVal[T any](ctx context.Context, fn func() (T, error), opts ...Option) (T, error) {
	o := resolve(opts)

	var zero T
	var lastErr error
	for attempt := range o.maxAttempts {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err

		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return zero, pe.err
		}

		if attempt == o.maxAttempts-1 {
			break
		}
		if o.notify != nil {
			o.notify(attempt+1, lastErr)
		}
		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(delayFor(o.backoff, attempt)):
		}
	}
	return zero, lastErr
}

func delayFor(backoff []time.Duration, attempt int) time.Duration {
	if len(backoff) == 0 {
		return 0
	}
	if attempt < len(backoff) {
		return backoff[attempt]
	}
	return backoff[len(backoff)-1]
}
