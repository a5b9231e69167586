package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRetry = errors.New("retry me")

func TestRetryPolicy_DefaultDelays(t *testing.T) {
	p := DefaultRetryPolicy()

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, d := range want {
		assert.Equal(t, d, p.Delay(i+1), "attempt %d", i+1)
	}
}

func TestRetryPolicy_Do_StopsAtMaxAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5}

	calls := 0
	attempts, err := p.Do(context.Background(), func(error) bool { return true }, func(int) error {
		calls++
		return errRetry
	})

	assert.ErrorIs(t, err, errRetry)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, 5, calls)
}

func TestRetryPolicy_Do_NonRetryableStopsImmediately(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5}
	fatal := errors.New("fatal")

	attempts, err := p.Do(context.Background(), func(err error) bool { return err == errRetry }, func(int) error {
		return fatal
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_Do_SucceedsLater(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}

	attempts, err := p.Do(context.Background(), func(error) bool { return true }, func(attempt int) error {
		if attempt < 3 {
			return errRetry
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_Do_CancelledDuringBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	attempts, err := p.Do(ctx, func(error) bool { return true }, func(int) error { return errRetry })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, errRetry)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}
