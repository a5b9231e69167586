package service

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 1000 * time.Millisecond
)

// RetryPolicy is an exponential backoff schedule for optimistic writes.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Delay is the wait before the given 1-based attempt:
// min(MaxDelay, InitialDelay * Multiplier^(attempt-2)), and zero for the first.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 2 || p.InitialDelay <= 0 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do calls fn until it returns nil, an error retryable rejects, or the
// attempts are used up. It returns the number of attempts made and the last
// error. A context cancelled during a backoff wait aborts the loop with an
// error wrapping ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) (int, error) {
	maxAttempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if werr := wait(ctx, p.Delay(attempt)); werr != nil {
				return attempt - 1, fmt.Errorf("retry aborted after %d attempts: %w", attempt-1, werr)
			}
		}
		err = fn(attempt)
		if err == nil || !retryable(err) {
			return attempt, err
		}
	}
	return maxAttempts, err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
