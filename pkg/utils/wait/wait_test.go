package wait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestPollImmediateUntil(t *testing.T) {
	calls := 0
	err := PollImmediateUntil(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	boom := errors.New("boom")
	err = PollImmediateUntil(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, boom
	})
	assert.True(t, errors.Is(err, boom))
}

func TestPollImmediateUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := PollImmediateUntil(ctx, time.Hour, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.Error(t, err)
}

func TestUntil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	Until(ctx, time.Millisecond, func(ctx context.Context) {
		calls++
		if calls == 2 {
			cancel()
		}
	})
	assert.Equal(t, 2, calls)
}

func TestPollImmediateUntilWithClock(t *testing.T) {
	start := time.Date(2024, 12, 9, 0, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(start)

	var checks []time.Duration
	delays := []time.Duration{5 * time.Second, 2 * time.Second}
	done := make(chan error, 1)
	go func() {
		done <- PollImmediateUntilWithClock(context.Background(), clk, func() time.Duration {
			d := delays[0]
			delays = delays[1:]
			return d
		}, func(ctx context.Context) (bool, error) {
			checks = append(checks, clk.Since(start))
			return len(checks) == 3, nil
		})
	}()

	require.Eventually(t, clk.HasWaiters, 5*time.Second, time.Millisecond)
	clk.Step(5 * time.Second)
	require.Eventually(t, clk.HasWaiters, 5*time.Second, time.Millisecond)
	clk.Step(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not return")
	}
	assert.Equal(t, []time.Duration{0, 5 * time.Second, 7 * time.Second}, checks)
	assert.False(t, clk.HasWaiters())
}

func TestPollImmediateUntilWithClockErrors(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	boom := errors.New("boom")
	err := PollImmediateUntilWithClock(context.Background(), clk, func() time.Duration { return time.Second }, func(ctx context.Context) (bool, error) {
		return false, boom
	})
	assert.True(t, errors.Is(err, boom))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- PollImmediateUntilWithClock(ctx, clk, func() time.Duration { return time.Hour }, func(ctx context.Context) (bool, error) {
			return false, nil
		})
	}()
	require.Eventually(t, clk.HasWaiters, 5*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not return after cancel")
	}
}
