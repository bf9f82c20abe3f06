package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mjudeikis/classroom-labs/pkg/utils/wait"
)

// Target receives the payload of a fired rule.
type Target func(ctx context.Context, payload []byte) error

// Reaper fires due rules of a Scheduler by invoking the registered target
// named by each rule. A rule fires at most once, whether its target
// succeeds or not.
type Reaper struct {
	log       *logrus.Entry
	scheduler *Scheduler
	clock     clock.PassiveClock
	interval  time.Duration

	mu      sync.RWMutex
	targets map[string]Target
}

func NewReaper(log *logrus.Entry, scheduler *Scheduler, clk clock.PassiveClock, interval time.Duration) *Reaper {
	return &Reaper{
		log:       log,
		scheduler: scheduler,
		clock:     clk,
		interval:  interval,
		targets:   map[string]Target{},
	}
}

func (r *Reaper) Register(name string, target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[name] = target
}

func (r *Reaper) target(name string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	return t, ok
}

// RunOnce fires every due rule and returns how many fired and how many are
// still pending.
func (r *Reaper) RunOnce(ctx context.Context) (fired, pending int, err error) {
	rules, err := r.scheduler.Rules()
	if err != nil {
		return 0, 0, err
	}
	now := r.clock.Now()
	for _, rule := range rules {
		if !rule.Pending() {
			continue
		}
		log := r.log.WithFields(logrus.Fields{"rule": rule.Name, "target": rule.Target})
		if rule.FireAt.After(now) {
			pending++
			continue
		}
		if rule.Target == "" {
			log.Warn("rule is due but has no target")
			pending++
			continue
		}
		if !rule.permitted(rule.Target) {
			log.Warn("rule is due but target has not granted invoke permission")
			pending++
			continue
		}
		target, ok := r.target(rule.Target)
		if !ok {
			log.Warn("rule is due but its target is not registered")
			pending++
			continue
		}

		fireErr := target(ctx, []byte(rule.Payload))
		if fireErr != nil {
			log.Errorf("target failed: %v", fireErr)
		} else {
			log.Info("rule fired")
		}
		if err := r.scheduler.markFired(rule.Name, fireErr); err != nil {
			return fired, pending, fmt.Errorf("recording rule %s: %w", rule.Name, err)
		}
		fired++
	}
	return fired, pending, nil
}

// Run fires due rules every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Infof("reaping due rules every %s", r.interval)
	wait.Until(ctx, r.interval, func(ctx context.Context) {
		if _, _, err := r.RunOnce(ctx); err != nil {
			r.log.Error(err)
		}
	})
}

// Drain keeps firing rules until none are pending or ctx is cancelled.
func (r *Reaper) Drain(ctx context.Context) error {
	return wait.PollImmediateUntil(ctx, r.interval, func(ctx context.Context) (bool, error) {
		_, pending, err := r.RunOnce(ctx)
		if err != nil {
			return false, err
		}
		r.log.Debugf("%d rules pending", pending)
		return pending == 0, nil
	})
}
