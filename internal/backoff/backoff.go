// Package backoff computes retry delays and runs retry loops for calls to
// upstream APIs.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted wraps the last error once every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy defines exponential backoff with jitter.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is the fraction (0..1) of the base delay added at random.
	Jitter float64
}

// DefaultPolicy starts at 500ms, doubles, caps at 10s with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the wait before retrying after attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// Retry calls fn up to maxAttempts times, sleeping per policy between
// attempts. It stops early when fn succeeds, when retryable reports false
// for the error, or when ctx is done. A nil retryable retries every error.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(err, lastErr)
			}
			return zero, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, errors.Join(err, lastErr)
			}
		}
	}
	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
