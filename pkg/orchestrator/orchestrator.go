// Package orchestrator is the composition root of a classroom run: network
// policy, then the fleet, then readiness. A run either returns every machine
// or fails as a whole.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/events"
	"github.com/mjudeikis/classroom-labs/pkg/fleet"
	"github.com/mjudeikis/classroom-labs/pkg/metrics"
	"github.com/mjudeikis/classroom-labs/pkg/network"
	"github.com/mjudeikis/classroom-labs/pkg/readiness"
	"github.com/mjudeikis/classroom-labs/pkg/shutdown"
	"github.com/mjudeikis/classroom-labs/pkg/store"
)

// StampFormat is the layout of the per-run timestamp used in resource names.
const StampFormat = "20060102150405"

type Config struct {
	PolicyName        string
	PolicyDescription string
	Template          api.MachineTemplate
	UsersPerMachine   int

	AdminUsername   string
	RequirementsURL string
	NamePrefix      string

	ShutdownDelay  time.Duration
	ShutdownTarget string
	Location       *time.Location

	ReadinessTimeout time.Duration
	PollInterval     time.Duration
	SettleTime       time.Duration
}

// Orchestrator is safe for sequential reuse across runs. Runs, Events and
// Metrics are optional.
type Orchestrator struct {
	log      *logrus.Entry
	provider cloud.Provider
	clock    clock.Clock
	config   Config
	network  *network.Manager

	Runs    *store.Runs
	Events  events.Publisher
	Metrics *metrics.Metrics
}

func New(log *logrus.Entry, provider cloud.Provider, clk clock.Clock, config Config) *Orchestrator {
	if config.Location == nil {
		config.Location = time.Local
	}
	return &Orchestrator{
		log:      log,
		provider: provider,
		clock:    clk,
		config:   config,
		network:  network.New(log, provider.Network),
	}
}

// ProvisionClassroom builds one machine per batch of tenants and blocks until
// the fleet is usable. On error no machines are returned; machines already
// created are listed in the returned *api.ProvisioningError and in the run
// record, and are not cleaned up.
func (o *Orchestrator) ProvisionClassroom(ctx context.Context, tenants []api.TenantCredential, usersPerMachine int) ([]api.ProvisionedMachine, error) {
	if usersPerMachine <= 0 {
		usersPerMachine = o.config.UsersPerMachine
	}
	now := o.clock.Now()
	run := &api.Run{
		ID:        uuid.NewString(),
		Stamp:     now.In(o.config.Location).Format(StampFormat),
		CreatedAt: now.UTC(),
	}
	log := o.log.WithFields(logrus.Fields{"run": run.ID, "stamp": run.Stamp})
	log.Infof("starting classroom provisioning for %d tenants", len(tenants))

	policyID, err := o.network.EnsurePolicy(ctx, o.config.PolicyName, o.config.PolicyDescription)
	if err != nil {
		return nil, o.fail(ctx, log, run, "network", nil, err)
	}
	run.PolicyID = policyID
	if !o.network.SetupStandardRules(ctx, policyID) {
		err := &api.NetworkError{Op: "setup-rules", Policy: policyID, Err: fmt.Errorf("standard ingress rules incomplete")}
		return nil, o.fail(ctx, log, run, "network", nil, err)
	}

	tmpl := o.config.Template
	tmpl.PolicyID = policyID
	tmpl.Tags = make(map[string]string, len(o.config.Template.Tags)+1)
	for k, v := range o.config.Template.Tags {
		tmpl.Tags[k] = v
	}
	tmpl.Tags["CreatedAt"] = run.Stamp

	scheduler := shutdown.New(log, o.provider.Scheduler, o.clock, o.config.Location, o.config.ShutdownTarget, run.Stamp)
	provisioner := fleet.New(log, o.provider.Compute, scheduler, o.Metrics, fleet.Config{
		AdminUsername:   o.config.AdminUsername,
		RequirementsURL: o.config.RequirementsURL,
		NamePrefix:      o.config.NamePrefix,
		Stamp:           run.Stamp,
		ShutdownDelay:   o.config.ShutdownDelay,
	})
	machines, err := provisioner.Provision(ctx, tenants, usersPerMachine, tmpl)
	if err != nil {
		var created []api.ProvisionedMachine
		var provErr *api.ProvisioningError
		if errors.As(err, &provErr) {
			for _, id := range provErr.Created {
				created = append(created, api.ProvisionedMachine{ID: id})
			}
		}
		return nil, o.fail(ctx, log, run, "provision", created, err)
	}

	waiter := readiness.New(log, o.provider.Compute, o.clock, o.config.PollInterval, o.config.SettleTime, o.Metrics)
	if err := waiter.WaitUntilReady(ctx, machines, o.config.ReadinessTimeout); err != nil {
		return nil, o.fail(ctx, log, run, "readiness", machines, err)
	}

	run.Status = api.RunStatusSucceeded
	run.Machines = runMachines(machines)
	o.finish(ctx, log, run)
	log.Infof("classroom ready on %d machines", len(machines))
	return machines, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *logrus.Entry, run *api.Run, stage string, machines []api.ProvisionedMachine, err error) error {
	log.Errorf("classroom provisioning failed during %s: %v", stage, err)
	o.Metrics.ProvisionFailed(stage)
	run.Status = api.RunStatusFailed
	run.Error = err.Error()
	run.Machines = runMachines(machines)
	o.finish(ctx, log, run)
	return err
}

// finish records the run. Bookkeeping failures are logged only; they never
// change the outcome handed to the caller.
func (o *Orchestrator) finish(ctx context.Context, log *logrus.Entry, run *api.Run) {
	o.Metrics.RunFinished(string(run.Status))
	if o.Runs != nil {
		if err := o.Runs.Save(run); err != nil {
			log.Errorf("error saving run record: %v", err)
		}
	}
	if o.Events != nil {
		if err := events.PublishRun(ctx, o.Events, run); err != nil {
			log.Warnf("error publishing run event: %v", err)
		}
	}
}

func runMachines(machines []api.ProvisionedMachine) []api.RunMachine {
	out := make([]api.RunMachine, 0, len(machines))
	for _, m := range machines {
		rm := api.RunMachine{
			ID:            m.ID,
			Name:          m.Name,
			PublicAddress: m.PublicAddress,
			Usernames:     m.Usernames(),
		}
		if m.Schedule != nil {
			rm.ShutdownRule = m.Schedule.RuleName
		}
		out = append(out, rm)
	}
	return out
}
