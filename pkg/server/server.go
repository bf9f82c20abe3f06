package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/store"
)

// Server exposes run records and metrics over HTTP. It never serves
// credentials; run records only hold usernames.
type Server struct {
	log     *logrus.Entry
	runs    *store.Runs
	address string
	handler http.Handler
}

func New(log *logrus.Entry, address string, runs *store.Runs, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		log:     log,
		runs:    runs,
		address: address,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /runs", s.listRuns)
	mux.HandleFunc("GET /runs/{id}", s.getRun)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.handler = mux
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error(err)
		}
	}()

	s.log.Infof("listening on %s", s.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("listRuns")

	runs, err := s.runs.List()
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.log.Debugf("getRun %s", id)

	run, err := s.runs.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, fmt.Sprintf("404 Not Found: run %s", id), http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, run)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	res, err := json.Marshal(v)
	if err != nil {
		s.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(res)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error(err)
	resp := fmt.Sprintf("500 Internal Error: %s", err)
	http.Error(w, resp, http.StatusInternalServerError)
}
