// Package retry implements retries with jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	// ErrInvalidPolicyParam indicates that one or more Backoff parameters are
	// invalid (e.g., fall outside accepted intervals).
	ErrInvalidPolicyParam = errors.New("invalid policy param")
	// ErrAborted indicates that the work function provided to Do returned a
	// Permanent error, which is not retried.
	ErrAborted = errors.New("aborted")
	// ErrExhausted indicates that the work function provided to Do exhausted
	// the provided attempt budget without succeeding.
	ErrExhausted = errors.New("too many attempts")
)

// permanentError marks an error as non-retryable.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err such that Do stops retrying when fn returns it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// WorkFn represents the retryable work provided to Do. A nil return indicates
// success, and an error wrapped with Permanent indicates a non-retryable
// failure. Any other error is retried.
type WorkFn func(ctx context.Context) error

// Backoff implements jittered exponential backoff. Multiple goroutines may
// use a given Backoff instance concurrently.
type Backoff struct {
	// Base is the initial delay between attempts.
	Base time.Duration
	// Growth is the multiplicative growth factor used to increase the delay on
	// successive attempts, and must be greater than or equal to 1.
	Growth float64
	// Jitter is the fractional amplitude of the random jitter applied to the
	// delay each time Do sleeps prior to the next attempt, and must be in the
	// interval [0, 1].
	Jitter float64
	sleep  func(context.Context, time.Duration) error // overidden in tests
}

func (b *Backoff) validate() error {
	if b.Growth < 1.0 {
		return fmt.Errorf("delay growth factor is less than 1: %w", ErrInvalidPolicyParam)
	}
	if b.Jitter < 0.0 {
		return fmt.Errorf("delay jitter amplitude is negative: %w", ErrInvalidPolicyParam)
	}
	if b.Jitter > 1.0 {
		return fmt.Errorf("delay jitter amplitude is greater than 1: %w", ErrInvalidPolicyParam)
	}
	return nil
}

// scale scales the duration d by f, truncated to integer nanoseconds.
func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d.Nanoseconds())*f) * time.Nanosecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do invokes fn up to n times according to the configured backoff policy.
// If ctx is done while waiting between attempts, the context error is
// returned.
func (b Backoff) Do(ctx context.Context, fn WorkFn, n int) error {
	if err := b.validate(); err != nil {
		return err
	}
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	d := b.Base
	var err error
	for i := 1; i <= n; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return fmt.Errorf("%w: %w", ErrAborted, perm.err)
		}
		if i < n {
			// Note: Jitter is actually over the interval [1-J, 1+J).
			if serr := sleep(ctx, scale(d, 1.0+b.Jitter*(2*rand.Float64()-1.0))); serr != nil {
				return serr
			}
			d = scale(d, b.Growth)
		}
	}
	return fmt.Errorf("%w (last error: %w)", ErrExhausted, err)
}
