package shutdown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/terminator"
)

// Scheduler registers one-shot rules that invoke the shutdown target for a
// machine. A Scheduler belongs to one provisioning run: stamp is folded into
// every rule name so reruns never collide.
type Scheduler struct {
	log      *logrus.Entry
	events   cloud.EventScheduler
	clock    clock.PassiveClock
	location *time.Location
	target   string
	stamp    string
}

func New(log *logrus.Entry, events cloud.EventScheduler, clk clock.PassiveClock, location *time.Location, target, stamp string) *Scheduler {
	if location == nil {
		location = time.Local
	}
	return &Scheduler{
		log:      log,
		events:   events,
		clock:    clk,
		location: location,
		target:   target,
		stamp:    stamp,
	}
}

func RuleName(machineID, stamp string) string {
	return fmt.Sprintf("shutdown-%s-%s", machineID, stamp)
}

func TargetID(machineID string) string {
	return "ShutdownTarget-" + machineID
}

// Schedule arranges for the shutdown target to be invoked for machineID once
// delay has passed. Partial scheduler state is left in place on failure.
func (s *Scheduler) Schedule(ctx context.Context, machineID string, delay time.Duration) (*api.ShutdownSchedule, error) {
	local := s.clock.Now().In(s.location)
	fireAt := ceilMinute(local.Add(delay)).UTC()
	name := RuleName(machineID, s.stamp)
	expr := Expression(fireAt)

	log := s.log.WithFields(logrus.Fields{"machine": machineID, "rule": name})
	log.Infof("scheduling %s at %s (local %s)", s.target, fireAt.Format(time.RFC3339), local.Add(delay).Format(time.RFC3339))

	ruleID, err := s.events.CreateOneShotRule(ctx, name, expr)
	if err != nil {
		return nil, &api.SchedulingError{MachineID: machineID, Step: "rule", Err: err}
	}

	err = s.events.GrantInvokePermission(ctx, s.target, ruleID)
	switch {
	case err == nil:
	case errors.Is(err, cloud.ErrPermissionExists):
		log.Debug("invoke permission already granted")
	default:
		return nil, &api.SchedulingError{MachineID: machineID, Step: "permission", Err: err}
	}

	payload, err := json.Marshal(terminator.Request{MachineID: machineID})
	if err != nil {
		return nil, &api.SchedulingError{MachineID: machineID, Step: "target", Err: err}
	}
	if err := s.events.SetRuleTarget(ctx, ruleID, s.target, TargetID(machineID), payload); err != nil {
		return nil, &api.SchedulingError{MachineID: machineID, Step: "target", Err: err}
	}

	log.Info("shutdown scheduled")
	return &api.ShutdownSchedule{
		MachineID:  machineID,
		FireAt:     fireAt,
		RuleID:     ruleID,
		RuleName:   name,
		Expression: expr,
	}, nil
}
