// Package httpadapter serves the probe, metrics and status endpoints of a
// long-running consume.
package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the part of the pipeline the server reports on.
type Service interface {
	sharedobs.ReadinessChecker
	LastRun() *pipeline.RunStatus
}

// Server exposes health, readiness, status and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status and /metrics routes.
func NewServer(addr string, svc Service, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(svc))
	mux.HandleFunc("GET /status", handleStatus(svc))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// handleStatus reports the last finished command. Before the first one
// finishes it answers 204.
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := svc.LastRun()
		if st == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, st)
	}
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
