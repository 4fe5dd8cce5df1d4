// Package api runs the operational HTTP server: liveness, a status snapshot,
// and Prometheus metrics. It carries no control surface; runtime changes go
// through the supervisor.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xbt-alerts/internal/config"
)

// StatusProvider exposes the pipeline's runtime snapshot for /status.
type StatusProvider interface {
	Debug() map[string]any
}

// Server is the ops HTTP server.
type Server struct {
	provider StatusProvider
	server   *http.Server
	logger   *slog.Logger
}

func NewServer(cfg config.OpsConfig, provider StatusProvider, logger *slog.Logger) *Server {
	s := &Server{
		provider: provider,
		logger:   logger.With("component", "ops-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("ops server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Debug()); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}
