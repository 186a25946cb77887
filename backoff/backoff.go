// Package backoff implements the retry policy shared by the outbound
// clients: bounded exponential backoff with optional jitter, expressed as a
// configuration value rather than nested retry loops at the call sites.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures retry behavior with exponential backoff.
type Policy struct {
	MaxRetries int     // total retry attempts (not counting initial)
	BaseDelay  float64 // initial delay in seconds
	MaxDelay   float64 // maximum delay between retries
	Multiplier float64 // exponential backoff factor
	Jitter     bool    // add random jitter to prevent thundering herd

	// Retryable decides whether an error is worth retrying. Nil means every
	// error is retried until MaxRetries is exhausted.
	Retryable func(err error) bool

	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultPolicy returns the default policy: up to 3 retries at 1s, 2s, 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1.0,
		MaxDelay:   30.0,
		Multiplier: 2.0,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.Multiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn under the policy. The final error is returned unwrapped
// so callers can inspect it; a cancelled context aborts the wait between
// attempts and returns ctx.Err().
func Retry[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
