package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/cloud/memory"
)

const poll = 5 * time.Second

// drive runs fn and advances clk by step whenever fn is blocked on it.
func drive(t *testing.T, clk *clocktesting.FakeClock, step time.Duration, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-timeout:
			t.Fatal("wait did not return")
			return nil
		default:
		}
		if clk.HasWaiters() {
			clk.Step(step)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func newFleet(t *testing.T, c *memory.Cloud, n int) []api.ProvisionedMachine {
	t.Helper()
	var machines []api.ProvisionedMachine
	for i := 0; i < n; i++ {
		m, err := c.CreateMachine(context.Background(), cloud.MachineSpec{ImageID: "ami-1"})
		require.NoError(t, err)
		machines = append(machines, api.ProvisionedMachine{ID: m.ID})
	}
	return machines
}

func TestWaitUntilReady(t *testing.T) {
	start := time.Date(2024, 12, 9, 0, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(start)
	c := memory.New(clk)
	c.BootTime = 30 * time.Second
	machines := newFleet(t, c, 2)
	w := New(logrus.NewEntry(logrus.New()), c, clk, poll, 180*time.Second, nil)

	err := drive(t, clk, poll, func() error {
		return w.WaitUntilReady(context.Background(), machines, 300*time.Second)
	})
	require.NoError(t, err)

	// 30s boot plus the full settle time
	assert.Equal(t, 210*time.Second, clk.Since(start))
	assert.Equal(t, "10.0.0.1", machines[0].PublicAddress)
	assert.Equal(t, "10.0.0.2", machines[1].PublicAddress)
}

func TestWaitUntilReadyTimeout(t *testing.T) {
	start := time.Date(2024, 12, 9, 0, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(start)
	c := memory.New(clk)
	machines := newFleet(t, c, 2)
	c.Hung[machines[0].ID] = true
	w := New(logrus.NewEntry(logrus.New()), c, clk, poll, 180*time.Second, nil)

	timeout := 60 * time.Second
	err := drive(t, clk, poll, func() error {
		return w.WaitUntilReady(context.Background(), machines, timeout)
	})

	var timeoutErr *api.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, machines[0].ID, timeoutErr.MachineID)

	elapsed := clk.Since(start)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.LessOrEqual(t, elapsed, timeout+poll)
	// the second machine is never checked
	assert.Equal(t, int(timeout/poll)+1, c.Describes())
}

func TestWaitUntilReadySharedBudget(t *testing.T) {
	start := time.Date(2024, 12, 9, 0, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(start)
	c := memory.New(clk)
	machines := newFleet(t, c, 2)
	c.BootTime = 40 * time.Second
	c.Hung[machines[1].ID] = true
	w := New(logrus.NewEntry(logrus.New()), c, clk, poll, 180*time.Second, nil)

	err := drive(t, clk, poll, func() error {
		return w.WaitUntilReady(context.Background(), machines, 60*time.Second)
	})

	var timeoutErr *api.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, machines[1].ID, timeoutErr.MachineID)
	assert.Equal(t, 60*time.Second, clk.Since(start))
}

func TestWaitUntilReadyDescribeErrors(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	c := memory.New(clk)
	machines := newFleet(t, c, 1)
	c.DescribeErr = errors.New("throttled")
	w := New(logrus.NewEntry(logrus.New()), c, clk, poll, 0, nil)

	err := drive(t, clk, poll, func() error {
		return w.WaitUntilReady(context.Background(), machines, 20*time.Second)
	})

	var timeoutErr *api.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Contains(t, err.Error(), "throttled")
}

func TestWaitUntilReadyCancelled(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	c := memory.New(clk)
	machines := newFleet(t, c, 1)
	c.Hung[machines[0].ID] = true
	w := New(logrus.NewEntry(logrus.New()), c, clk, poll, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.WaitUntilReady(ctx, machines, time.Hour) }()

	require.Eventually(t, clk.HasWaiters, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after cancel")
	}
}

func TestWaitUntilReadyDeadMachine(t *testing.T) {
	for _, state := range []api.MachineState{
		api.MachineStateTerminated,
		api.MachineStateShuttingDown,
		api.MachineStateStopping,
		api.MachineStateStopped,
	} {
		t.Run(string(state), func(t *testing.T) {
			start := time.Date(2024, 12, 9, 0, 0, 0, 0, time.UTC)
			clk := clocktesting.NewFakeClock(start)
			c := memory.New(clk)
			c.BootTime = 30 * time.Second
			machines := newFleet(t, c, 2)
			w := New(logrus.NewEntry(logrus.New()), c, clk, poll, 180*time.Second, nil)

			err := drive(t, clk, poll, func() error {
				return w.WaitUntilReady(context.Background(), machines, 300*time.Second)
			})
			require.NoError(t, err)

			c.SetState(machines[1].ID, state)
			err = drive(t, clk, poll, func() error {
				return w.WaitUntilReady(context.Background(), machines, 300*time.Second)
			})

			var timeoutErr *api.TimeoutError
			require.True(t, errors.As(err, &timeoutErr), "got %v", err)
			assert.Equal(t, machines[1].ID, timeoutErr.MachineID)
			assert.Contains(t, err.Error(), "machine is "+string(state))
		})
	}
}

func TestWaitUntilReadyTerminatedFailsFast(t *testing.T) {
	start := time.Date(2024, 12, 9, 0, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(start)
	c := memory.New(clk)
	machines := newFleet(t, c, 2)
	c.SetState(machines[0].ID, api.MachineStateTerminated)
	w := New(logrus.NewEntry(logrus.New()), c, clk, poll, 180*time.Second, nil)

	err := drive(t, clk, poll, func() error {
		return w.WaitUntilReady(context.Background(), machines, 300*time.Second)
	})

	var timeoutErr *api.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, machines[0].ID, timeoutErr.MachineID)
	assert.Equal(t, time.Duration(0), clk.Since(start))
	assert.Equal(t, 1, c.Describes())
}
