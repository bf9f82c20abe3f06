package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/bootstrap"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/metrics"
	"github.com/mjudeikis/classroom-labs/pkg/utils/random"
)

// adminPasswordBytes matches a 32 character hex password.
const adminPasswordBytes = 16

// ShutdownScheduler is satisfied by *shutdown.Scheduler.
type ShutdownScheduler interface {
	Schedule(ctx context.Context, machineID string, delay time.Duration) (*api.ShutdownSchedule, error)
}

type Config struct {
	AdminUsername   string
	RequirementsURL string
	NamePrefix      string
	// Stamp identifies the run in machine names.
	Stamp         string
	ShutdownDelay time.Duration
}

type Provisioner struct {
	log      *logrus.Entry
	compute  cloud.Compute
	shutdown ShutdownScheduler
	metrics  *metrics.Metrics
	config   Config
}

func New(log *logrus.Entry, compute cloud.Compute, shutdown ShutdownScheduler, m *metrics.Metrics, config Config) *Provisioner {
	return &Provisioner{
		log:      log,
		compute:  compute,
		shutdown: shutdown,
		metrics:  m,
		config:   config,
	}
}

// Batches splits tenants into contiguous groups of at most size tenants.
func Batches(tenants []api.TenantCredential, size int) ([][]api.TenantCredential, error) {
	if size <= 0 {
		return nil, fmt.Errorf("users per machine must be positive, got %d", size)
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("no tenants to provision")
	}

	batches := make([][]api.TenantCredential, 0, (len(tenants)+size-1)/size)
	for i := 0; i < len(tenants); i += size {
		end := i + size
		if end > len(tenants) {
			end = len(tenants)
		}
		batches = append(batches, tenants[i:end:end])
	}
	return batches, nil
}

// MachineName is the Name tag of the index-th (1-based) machine of a run.
func MachineName(prefix string, index int, stamp string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, index, stamp)
}

// Provision creates one machine per batch, in order. The first failing batch
// aborts the fleet; machines from earlier batches are reported in the
// returned *api.ProvisioningError and left running.
func (p *Provisioner) Provision(ctx context.Context, tenants []api.TenantCredential, usersPerMachine int, tmpl api.MachineTemplate) ([]api.ProvisionedMachine, error) {
	batches, err := Batches(tenants, usersPerMachine)
	if err != nil {
		return nil, &api.ProvisioningError{Err: err}
	}
	p.log.Infof("provisioning %d machines for %d tenants", len(batches), len(tenants))

	machines := make([]api.ProvisionedMachine, 0, len(batches))
	created := func() []string {
		ids := make([]string, 0, len(machines))
		for _, m := range machines {
			ids = append(ids, m.ID)
		}
		return ids
	}

	for i, tenants := range batches {
		batch, err := p.newBatch(i+1, tenants)
		if err != nil {
			return nil, &api.ProvisioningError{Batch: i + 1, Created: created(), Err: err}
		}

		m, err := p.createMachine(ctx, batch, tmpl)
		if err != nil {
			return nil, &api.ProvisioningError{Batch: batch.Index, Created: created(), Err: err}
		}
		machines = append(machines, *m)
	}

	return machines, nil
}

func (p *Provisioner) newBatch(index int, tenants []api.TenantCredential) (*api.MachineBatch, error) {
	password, err := random.Hex(adminPasswordBytes)
	if err != nil {
		return nil, fmt.Errorf("generating admin password: %w", err)
	}
	admin := api.AdminCredential{Username: p.config.AdminUsername, Password: api.Secret(password)}

	script, err := bootstrap.Render(admin, tenants, p.config.RequirementsURL)
	if err != nil {
		return nil, err
	}

	return &api.MachineBatch{
		Index:           index,
		Tenants:         tenants,
		Admin:           admin,
		BootstrapScript: script,
	}, nil
}

func (p *Provisioner) createMachine(ctx context.Context, batch *api.MachineBatch, tmpl api.MachineTemplate) (*api.ProvisionedMachine, error) {
	name := MachineName(p.config.NamePrefix, batch.Index, p.config.Stamp)
	log := p.log.WithFields(logrus.Fields{"batch": batch.Index, "name": name})

	usernames := make([]string, 0, len(batch.Tenants))
	for _, t := range batch.Tenants {
		usernames = append(usernames, t.Username)
	}
	log.Infof("creating machine for tenants %v", usernames)

	tags := make(map[string]string, len(tmpl.Tags)+1)
	for k, v := range tmpl.Tags {
		tags[k] = v
	}
	tags["Name"] = name

	var policies []string
	if tmpl.PolicyID != "" {
		policies = []string{tmpl.PolicyID}
	}

	m, err := p.compute.CreateMachine(ctx, cloud.MachineSpec{
		ImageID:     tmpl.ImageID,
		MachineType: tmpl.MachineType,
		KeyName:     tmpl.KeyName,
		UserData:    batch.BootstrapScript,
		PolicyIDs:   policies,
		Tags:        tags,
	})
	if err != nil {
		log.Errorf("error creating machine: %v", err)
		return nil, err
	}
	p.metrics.MachineCreated()
	log = log.WithField("machine", m.ID)
	log.Info("created machine")

	out := &api.ProvisionedMachine{
		ID:            m.ID,
		Name:          name,
		PublicAddress: m.PublicAddress,
		Tenants:       batch.Tenants,
		Admin:         batch.Admin,
	}

	// cost control is best effort: a machine without a shutdown rule is still
	// handed to the tenants
	sched, err := p.shutdown.Schedule(ctx, m.ID, p.config.ShutdownDelay)
	if err != nil {
		p.metrics.ScheduleFailed()
		log.Warnf("machine has no automatic shutdown: %v", err)
		return out, nil
	}
	out.Schedule = sched

	return out, nil
}
