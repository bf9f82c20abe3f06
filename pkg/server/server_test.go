package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/metrics"
	"github.com/mjudeikis/classroom-labs/pkg/store"
)

func newServer(t *testing.T) (*httptest.Server, *store.Runs) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	storage, err := store.New(log, t.TempDir(), "runs")
	require.NoError(t, err)
	runs := store.NewRuns(storage)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RunFinished("succeeded")

	ts := httptest.NewServer(New(log, ":0", runs, reg).Handler())
	t.Cleanup(ts.Close)
	return ts, runs
}

func TestRuns(t *testing.T) {
	ts, runs := newServer(t)
	created := time.Date(2024, 12, 9, 1, 0, 0, 0, time.UTC)
	require.NoError(t, runs.Save(&api.Run{ID: "run-1", Status: api.RunStatusFailed, CreatedAt: created}))
	require.NoError(t, runs.Save(&api.Run{
		ID:        "run-2",
		Status:    api.RunStatusSucceeded,
		CreatedAt: created.Add(time.Hour),
		Machines:  []api.RunMachine{{ID: "i-0001", Usernames: []string{"a", "b"}}},
	}))

	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var list []api.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "run-2", list[0].ID)

	resp, err = http.Get(ts.URL + "/runs/run-2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run api.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, []string{"a", "b"}, run.Machines[0].Usernames)
}

func TestRunNotFound(t *testing.T) {
	ts, _ := newServer(t)

	resp, err := http.Get(ts.URL + "/runs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	ts, _ := newServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `classroom_runs_total{status="succeeded"} 1`)

	resp, err = http.Post(ts.URL+"/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
