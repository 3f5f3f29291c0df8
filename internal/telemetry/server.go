// Package telemetry exposes a minimal HTTP surface for health checks and
// Prometheus-style metrics scraping. Out-of-scope collaborator (spec.md
// §1): a thin stub sufficient for the core to be exercised and observed,
// not a full dashboard. Grounded on the teacher's internal/api/server.go
// (http.Server wrapped with a mux, Start/Stop lifecycle).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hip3/dislocated/internal/stats"
)

// Server serves /healthz and /metrics on the configured port.
type Server struct {
	counters *stats.Counters
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds the telemetry HTTP server. port <= 0 disables it (Start
// becomes a no-op).
func NewServer(port int, counters *stats.Counters, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{counters: counters, logger: logger.With("component", "telemetry")}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)

	if port > 0 {
		s.server = &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}
	return s
}

// Start blocks serving until Stop is called, or returns immediately if
// the server was built with a disabled port.
func (s *Server) Start() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("telemetry server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("telemetry server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleMetrics emits a Prometheus text-exposition snapshot of the cross
// and gate-block counters. Histograms aren't exported here; the daily
// stats reporter (internal/stats) covers periodic percentile summaries.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	crosses, bboTotal, bboNull, gates := s.counters.Snapshot()

	for side, count := range crosses {
		fmt.Fprintf(w, "dislocated_crosses_total{side=%q} %d\n", side, count)
	}
	fmt.Fprintf(w, "dislocated_bbo_observations_total %d\n", bboTotal)
	fmt.Fprintf(w, "dislocated_bbo_null_total %d\n", bboNull)
	for gate, count := range gates {
		fmt.Fprintf(w, "dislocated_gate_blocked_total{gate=%q} %d\n", gate, count)
	}
}
