package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(7, 42))
}

func quietPolicy(cfg RetryConfig, rng *rand.Rand) *RetryPolicy {
	return NewRetryPolicy(cfg, rng).WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func TestRetryDelayWithinJitterBounds(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 8 * time.Second}
	policy := NewRetryPolicy(cfg, seeded())

	for attempt := 0; attempt < 6; attempt++ {
		window := time.Second << attempt
		if window > cfg.MaxDelay {
			window = cfg.MaxDelay
		}
		for i := 0; i < 200; i++ {
			d := policy.Delay(attempt)
			assert.GreaterOrEqual(t, d, window/2, "attempt %d", attempt)
			assert.Less(t, d, window*3/2, "attempt %d", attempt)
		}
	}

	// 指数很大时也不会溢出，始终被 MaxDelay 截断。
	d := policy.Delay(200)
	assert.GreaterOrEqual(t, d, cfg.MaxDelay/2)
	assert.Less(t, d, cfg.MaxDelay*3/2)
}

func TestRetryDelayDeterministicWithSeed(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	a := NewRetryPolicy(cfg, seeded())
	b := NewRetryPolicy(cfg, seeded())

	for i := 0; i < 4; i++ {
		assert.Equal(t, a.Delay(i), b.Delay(i))
	}
}

func TestRunSucceedsOnFourthAttempt(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}

	// 用相同种子预先算出三次等待时间。
	expected := NewRetryPolicy(cfg, seeded())
	var minTotal time.Duration
	for i := 0; i < 3; i++ {
		minTotal += expected.Delay(i)
	}
	maxTotal := time.Duration(float64(10+20+40)*1.5) * time.Millisecond

	policy := quietPolicy(cfg, seeded())
	calls := 0
	start := time.Now()
	got, err := Run(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		if calls < 4 {
			return "", fmt.Errorf("attempt %d failed", calls)
		}
		return "fourth", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "fourth", got)
	assert.Equal(t, 4, calls)
	assert.GreaterOrEqual(t, elapsed, minTotal)
	assert.Less(t, elapsed, maxTotal+250*time.Millisecond)
}

func TestRunReturnsLastErrorUnmodified(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	policy := quietPolicy(cfg, seeded())

	errs := []error{
		errors.New("first"),
		errors.New("second"),
		errors.New("third"),
		errors.New("last"),
	}
	calls := 0
	_, err := Run(context.Background(), policy, func(context.Context) (int, error) {
		e := errs[calls]
		calls++
		return 0, e
	})

	assert.Equal(t, 4, calls)
	assert.True(t, err == errs[3], "expected the exact last error, got %v", err)
}

func TestRunSingleAttempt(t *testing.T) {
	policy := quietPolicy(RetryConfig{MaxAttempts: 1, BaseDelay: time.Hour, MaxDelay: time.Hour}, seeded())
	boom := errors.New("boom")

	calls := 0
	_, err := Run(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsAfterCancellation(t *testing.T) {
	policy := quietPolicy(RetryConfig{MaxAttempts: 4, BaseDelay: time.Hour, MaxDelay: time.Hour}, seeded())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	_, err := Run(ctx, policy, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	policy := quietPolicy(RetryConfig{MaxAttempts: 4, BaseDelay: time.Hour, MaxDelay: time.Hour}, seeded())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	_, err := Run(ctx, policy, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("unavailable")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunSkipsCallWhenAlreadyCancelled(t *testing.T) {
	policy := quietPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, seeded())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Run(ctx, policy, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})

	assert.False(t, called)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunLogsEachRetry(t *testing.T) {
	var buf bytes.Buffer
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, seeded()).
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	_, _ = Run(context.Background(), policy, func(context.Context) (int, error) {
		return 0, errors.New("nope")
	})

	assert.Equal(t, 2, strings.Count(buf.String(), "retrying"))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "attempt=1")
	assert.Contains(t, buf.String(), "attempt=2")
}
