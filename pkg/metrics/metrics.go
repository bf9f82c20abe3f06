package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "classroom"

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	MachinesCreated   prometheus.Counter
	ProvisionFailures *prometheus.CounterVec
	ScheduleFailures  prometheus.Counter
	Runs              *prometheus.CounterVec
	ReadinessWait     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MachinesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machines_created_total",
			Help:      "Machines created by the fleet provisioner.",
		}),
		ProvisionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_failures_total",
			Help:      "Failed provisioning runs by failing stage.",
		}, []string{"stage"}),
		ScheduleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdown_schedule_failures_total",
			Help:      "Machines left without an automatic shutdown.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Provisioning runs by outcome.",
		}, []string{"status"}),
		ReadinessWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for a fleet to reach running, settle time included.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 8),
		}),
	}
	reg.MustRegister(m.MachinesCreated, m.ProvisionFailures, m.ScheduleFailures, m.Runs, m.ReadinessWait)
	return m
}

func (m *Metrics) MachineCreated() {
	if m != nil {
		m.MachinesCreated.Inc()
	}
}

func (m *Metrics) ScheduleFailed() {
	if m != nil {
		m.ScheduleFailures.Inc()
	}
}

func (m *Metrics) ProvisionFailed(stage string) {
	if m != nil {
		m.ProvisionFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) RunFinished(status string) {
	if m != nil {
		m.Runs.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ObserveReadiness(d time.Duration) {
	if m != nil {
		m.ReadinessWait.Observe(d.Seconds())
	}
}
