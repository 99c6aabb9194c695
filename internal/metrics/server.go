package metrics

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

	"firestige.xyz/lswitch/internal/log"
	"firestige.xyz/lswitch/internal/snapshot"
)

// TableSource yields the most recent table snapshot.
type TableSource interface {
	Latest() (snapshot.Record, bool)
}

// Server is the HTTP server for Prometheus metrics and table inspection.
type Server struct {
	addr     string
	metrics  *Metrics
	table    TableSource
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new metrics server. table may be nil.
func NewServer(addr string, m *Metrics, table TableSource) *Server {
	return &Server{
		addr:    addr,
		metrics: m,
		table:   table,
	}
}

// Handler builds the router:
//
//	GET /metrics        Prometheus exposition
//	GET /api/v1/table   latest learning table snapshot
//	GET /healthz        liveness
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/table", s.handleTable).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

func (s *Server) handleTable(w http.ResponseWriter, _ *http.Request) {
	if s.table == nil {
		http.Error(w, "table inspection disabled", http.StatusNotFound)
		return
	}
	rec, ok := s.table.Latest()
	if !ok {
		http.Error(w, "no snapshot taken yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		log.GetLogger().WithError(err).Warn("failed to encode table snapshot")
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.GetLogger().WithField("addr", ln.Addr().String()).Info("starting metrics server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.GetLogger().WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	log.GetLogger().Info("metrics server stopped")
	return nil
}
