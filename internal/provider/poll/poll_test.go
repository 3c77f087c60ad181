package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.2,
		MaxAttempts:     50,
		Deadline:        time.Second,
	}
}

func TestUntilStopsWhenDone(t *testing.T) {
	calls := 0
	err := Until(context.Background(), fastConfig(), func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUntilPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := Until(context.Background(), fastConfig(), func(ctx context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUntilDeadline(t *testing.T) {
	cfg := fastConfig()
	cfg.Deadline = 10 * time.Millisecond
	cfg.InitialInterval = 4 * time.Millisecond
	cfg.MaxInterval = 4 * time.Millisecond

	err := Until(context.Background(), cfg, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestUntilAttemptBudget(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 4

	calls := 0
	err := Until(context.Background(), cfg, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	assert.ErrorIs(t, err, ErrAttemptsExceeded)
	assert.Equal(t, 4, calls)
}

func TestUntilRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Until(ctx, fastConfig(), func(ctx context.Context) (bool, error) {
		t.Fatal("fn should not run after cancellation")
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithJitterBounds(t *testing.T) {
	interval := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := withJitter(interval, 0.2)
		assert.GreaterOrEqual(t, got, 80*time.Millisecond)
		assert.Less(t, got, 120*time.Millisecond)
	}
	assert.Equal(t, interval, withJitter(interval, 0))
}
