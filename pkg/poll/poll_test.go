package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilStopsWhenDone(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Config{Attempts: 5}, func(context.Context) (bool, error) {
		calls++
		return calls == 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUntilExhausted(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Config{Attempts: 3}, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 3, calls)
}

func TestUntilPropagatesCheckError(t *testing.T) {
	boom := errors.New("provider down")
	err := Until(context.Background(), Config{Attempts: 3}, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUntilHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Until(ctx, Config{Attempts: 3, Interval: time.Hour}, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestUntilWaitsBetweenChecks(t *testing.T) {
	var stamps []time.Time
	err := Until(context.Background(), Config{Attempts: 3, Interval: 20 * time.Millisecond}, func(context.Context) (bool, error) {
		stamps = append(stamps, time.Now())
		return false, nil
	})
	assert.ErrorIs(t, err, ErrExhausted)
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 30*time.Millisecond)
}

func TestUntilStopsWhenCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	err := Until(ctx, Config{Attempts: 10, Interval: time.Millisecond}, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestUntilWithoutAttempts(t *testing.T) {
	err := Until(context.Background(), Config{}, func(context.Context) (bool, error) {
		t.Fatal("check must not run")
		return false, nil
	})
	assert.ErrorIs(t, err, ErrExhausted)
}
