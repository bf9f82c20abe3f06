package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.MachineCreated()
	m.MachineCreated()
	m.ScheduleFailed()
	m.ProvisionFailed("network")
	m.RunFinished("failed")
	m.ObserveReadiness(time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MachinesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduleFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProvisionFailures.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failed")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MachineCreated()
		m.ScheduleFailed()
		m.ProvisionFailed("network")
		m.RunFinished("succeeded")
		m.ObserveReadiness(time.Second)
	})
}
