// Package retry provides the retry policy shared by every external call:
// bounded attempts, exponential backoff with jitter, a per-attempt timeout and
// a classifier separating transient from terminal failures.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default policy values.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 500 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultJitterFraction = 0.2
	DefaultAttemptTimeout = 15 * time.Second
)

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Policy retries an operation. The zero value is not usable; start from
// DefaultPolicy.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	// AttemptTimeout bounds a single attempt. Zero disables it.
	AttemptTimeout time.Duration
	// Transient defaults to IsTransient when nil.
	Transient Classifier
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)

	random func() float64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		JitterFraction: DefaultJitterFraction,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Delay returns the wait after the given failed attempt (1-based):
// base × 2^(attempt−1) × (1 + r × jitter), r in [0, 1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	r := rand.Float64
	if p.random != nil {
		r = p.random
	}

	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)) * (1 + r()*p.JitterFraction)
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, fails terminally, the attempts are spent or
// ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	transient := p.Transient
	if transient == nil {
		transient = IsTransient
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		actx, cancel := p.attemptContext(ctx)
		defer cancel()

		v, err := op(actx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if !transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	var b backoff.BackOff = &schedule{policy: p}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	v, err := backoff.RetryNotifyWithData(operation, b, notify)
	var terminal *terminalError
	if errors.As(err, &terminal) {
		return v, terminal.err
	}
	return v, err
}

func (p Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.AttemptTimeout)
}

// schedule adapts Policy.Delay to backoff.BackOff.
type schedule struct {
	policy  Policy
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	s.attempt++
	return s.policy.Delay(s.attempt)
}

func (s *schedule) Reset() { s.attempt = 0 }

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTransient is the default classifier: everything except errors marked
// with Terminal and parent cancellation is retried.
func IsTransient(err error) bool {
	var terminal *terminalError
	if errors.As(err, &terminal) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
