package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/cloud/aws"
	"github.com/mjudeikis/classroom-labs/pkg/cloud/kube"
	"github.com/mjudeikis/classroom-labs/pkg/cloud/local"
	"github.com/mjudeikis/classroom-labs/pkg/cloud/memory"
	"github.com/mjudeikis/classroom-labs/pkg/config"
	"github.com/mjudeikis/classroom-labs/pkg/events"
	"github.com/mjudeikis/classroom-labs/pkg/metrics"
	"github.com/mjudeikis/classroom-labs/pkg/orchestrator"
	"github.com/mjudeikis/classroom-labs/pkg/store"
	"github.com/mjudeikis/classroom-labs/pkg/terminator"
)

// environment wires the configured backend and the bookkeeping shared by
// all commands.
type environment struct {
	log      *logrus.Entry
	config   *config.Config
	clock    clock.Clock
	provider cloud.Provider
	runs     *store.Runs
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// reaper is set for providers without a native scheduler.
	reaper    *local.Reaper
	publisher *events.NATSPublisher
}

func newEnvironment(ctx context.Context, log *logrus.Entry, c *config.Config) (*environment, error) {
	e := &environment{
		log:      log,
		config:   c,
		clock:    clock.RealClock{},
		registry: prometheus.NewRegistry(),
	}
	e.metrics = metrics.New(e.registry)

	runStore, err := store.New(log, c.StorageDir, "runs")
	if err != nil {
		return nil, err
	}
	e.runs = store.NewRuns(runStore)

	switch c.Provider {
	case config.ProviderAWS:
		a, err := aws.New(ctx, log, c.AWS.Region)
		if err != nil {
			return nil, err
		}
		e.provider = a.Provider()

	case config.ProviderKube:
		k, err := kube.New(log, c.Kube.Kubeconfig, c.Kube.Namespace)
		if err != nil {
			return nil, err
		}
		ruleStore, err := store.New(log, c.StorageDir, "rules")
		if err != nil {
			return nil, err
		}
		scheduler := local.NewScheduler(log, ruleStore, e.clock)
		e.provider = k.Provider(scheduler)

		handler, err := terminator.New(log, k, terminator.Action(c.Shutdown.Action))
		if err != nil {
			return nil, err
		}
		e.reaper = local.NewReaper(log, scheduler, e.clock, c.Readiness.PollInterval.Duration)
		e.reaper.Register(c.Shutdown.Target, handler.Invoke)

	case config.ProviderMemory:
		e.provider = memory.New(e.clock).Provider()

	default:
		return nil, fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.NATSURL != "" {
		e.publisher, err = events.NewNATSPublisher(log, c.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
	}
	log.Debugf("using %s provider", c.Provider)
	return e, nil
}

func (e *environment) orchestrator() (*orchestrator.Orchestrator, error) {
	oc, err := e.config.Orchestrator()
	if err != nil {
		return nil, err
	}
	o := orchestrator.New(e.log, e.provider, e.clock, oc)
	o.Runs = e.runs
	o.Metrics = e.metrics
	if e.publisher != nil {
		o.Events = e.publisher
	}
	return o, nil
}

func (e *environment) Close() {
	if e.publisher != nil {
		e.publisher.Close()
	}
}
