package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dcshock/trypipe/failure"
)

// RetryPolicy bounds `try while` loops. MaxAttempts limits the number of body
// runs (0 = unlimited, the loop condition alone decides). Backoff is the delay
// before each retry. If ShouldRetry is non-nil, only failures for which it
// returns true are retried; use RetryableErr in a host function to mark a
// transient failure and IsRetryable as ShouldRetry.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
	ShouldRetry func(err error) bool
}

// Backoff returns the delay before retry number attempt (0-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same duration before every retry.
type FixedBackoff time.Duration

func (b FixedBackoff) Delay(int) time.Duration { return time.Duration(b) }

// ExponentialBackoff computes Initial * Multiplier^attempt, capped at Cap when
// Cap > 0. A Multiplier below 1 is treated as 2.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Cap        time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	m := b.Multiplier
	if m < 1 {
		m = 2
	}
	d := float64(b.Initial) * math.Pow(m, float64(attempt))
	if b.Cap > 0 && d > float64(b.Cap) {
		return b.Cap
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Retryable marks err as retryable. Use with RetryPolicy.ShouldRetry so only
// these errors trigger a retry (e.g. transient failures), not permanent ones.
type Retryable struct{ Err error }

func (e *Retryable) Error() string { return e.Err.Error() }
func (e *Retryable) Unwrap() error { return e.Err }
func RetryableErr(err error) error { return &Retryable{Err: err} }
func IsRetryable(err error) bool   { return errors.As(err, new(*Retryable)) }

// allows reports whether another attempt may start after attempts runs ended
// in f.
func (p *RetryPolicy) allows(attempts int, f *failure.Value) bool {
	if p == nil {
		return true
	}
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return false
	}
	return p.ShouldRetry == nil || p.ShouldRetry(f)
}

func (p *RetryPolicy) delay(attempt int) time.Duration {
	if p == nil || p.Backoff == nil {
		return 0
	}
	return p.Backoff.Delay(attempt)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
