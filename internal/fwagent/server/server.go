package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/fwagent/ota"
	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
	"github.com/autopeer-io/fwagent/internal/fwagent/status"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// StatusSource produces the current status report.
type StatusSource interface {
	Snapshot() status.Report
}

// OutcomeSource reports the last firmware update attempt.
type OutcomeSource interface {
	LastOutcome() (ota.Outcome, bool)
}

// Server is the local HTTP endpoint for health checks, metrics and inspection.
type Server struct {
	opts *options.HttpOptions

	store     core.PartitionStore
	status    StatusSource
	updates   OutcomeSource
	publisher core.Publisher
}

func New(opts *options.HttpOptions, store core.PartitionStore, st StatusSource, updates OutcomeSource, pub core.Publisher) *Server {
	return &Server{
		opts:      opts,
		store:     store,
		status:    st,
		updates:   updates,
		publisher: pub,
	}
}

// Handler returns the router with all routes registered.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet).Name("Healthz")
	router.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet).Name("Readyz")
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("Metrics")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/partitions", s.listPartitions).Methods(http.MethodGet).Name("Partitions")
	api.HandleFunc("/status", s.getStatus).Methods(http.MethodGet).Name("Status")

	return router
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen(s.opts.Network, s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on http addr %s: %w", s.opts.Addr, err)
	}

	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.Timeout,
		WriteTimeout: s.opts.Timeout,
	}

	log.Info("fwagent HTTP listening", "address", lis.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "fwagent HTTP server shutdown failed")
		}
	}()

	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if !s.publisher.IsConnected() {
		http.Error(w, "mqtt not connected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) listPartitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, partition.Views(s.store))
}

type statusResponse struct {
	Status     status.Report `json:"status"`
	LastUpdate *ota.Outcome  `json:"lastUpdate,omitempty"`
	Error      string        `json:"lastUpdateError,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.status.Snapshot()}
	if out, ok := s.updates.LastOutcome(); ok {
		resp.LastUpdate = &out
		if out.Err != nil {
			resp.Error = out.Err.Error()
		}
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}
