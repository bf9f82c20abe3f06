package readiness

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/metrics"
	"github.com/mjudeikis/classroom-labs/pkg/utils/wait"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultSettleTime   = 180 * time.Second
	DefaultTimeout      = 300 * time.Second
)

type Waiter struct {
	log          *logrus.Entry
	compute      cloud.Compute
	clock        clock.Clock
	pollInterval time.Duration
	settle       time.Duration
	metrics      *metrics.Metrics
}

func New(log *logrus.Entry, compute cloud.Compute, clk clock.Clock, pollInterval, settle time.Duration, m *metrics.Metrics) *Waiter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if settle < 0 {
		settle = 0
	}
	return &Waiter{
		log:          log,
		compute:      compute,
		clock:        clk,
		pollInterval: pollInterval,
		settle:       settle,
		metrics:      m,
	}
}

// WaitUntilReady polls the machines in order until each reports running,
// sharing one timeout across the fleet, then waits the settle time for the
// bootstrap script. Public addresses learned while polling are written back
// into machines.
//
// Reaching running only means the machine booted; the settle wait is a
// fixed delay, not a signal that the bootstrap finished.
func (w *Waiter) WaitUntilReady(ctx context.Context, machines []api.ProvisionedMachine, timeout time.Duration) error {
	start := w.clock.Now()
	deadline := start.Add(timeout)
	w.log.Infof("waiting up to %s for %d machines", timeout, len(machines))

	for i := range machines {
		if err := w.waitForMachine(ctx, &machines[i], deadline, timeout); err != nil {
			return err
		}
		w.log.WithField("machine", machines[i].ID).Infof("machine %d is running", i+1)
	}

	w.log.Infof("waiting %s for the bootstrap to finish", w.settle)
	if err := w.sleep(ctx, w.settle); err != nil {
		return err
	}
	w.metrics.ObserveReadiness(w.clock.Since(start))
	return nil
}

func (w *Waiter) waitForMachine(ctx context.Context, m *api.ProvisionedMachine, deadline time.Time, timeout time.Duration) error {
	log := w.log.WithField("machine", m.ID)
	if !w.clock.Now().Before(deadline) {
		return &api.TimeoutError{MachineID: m.ID, Timeout: timeout}
	}

	// the last poll lands on the deadline, never past it
	delay := func() time.Duration {
		if remaining := deadline.Sub(w.clock.Now()); remaining < w.pollInterval {
			return remaining
		}
		return w.pollInterval
	}

	return wait.PollImmediateUntilWithClock(ctx, w.clock, delay, func(ctx context.Context) (bool, error) {
		state, err := w.compute.DescribeMachine(ctx, m.ID)
		switch {
		case err != nil:
			log.Debugf("describe failed: %v", err)
		case state.State == api.MachineStateRunning:
			if state.PublicAddress != "" {
				m.PublicAddress = state.PublicAddress
			}
			return true, nil
		case dead[state.State]:
			return false, &api.TimeoutError{MachineID: m.ID, Timeout: timeout, Err: fmt.Errorf("machine is %s", state.State)}
		default:
			log.Debugf("machine is %s", state.State)
		}

		if !w.clock.Now().Before(deadline) {
			return false, &api.TimeoutError{MachineID: m.ID, Timeout: timeout, Err: err}
		}
		return false, nil
	})
}

// dead lists the states a machine never leaves for running.
var dead = map[api.MachineState]bool{
	api.MachineStateStopping:     true,
	api.MachineStateStopped:      true,
	api.MachineStateShuttingDown: true,
	api.MachineStateTerminated:   true,
}

func (w *Waiter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(d):
		return nil
	}
}
