package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/monitoring"
	"github.com/opensource-finance/harrier/internal/sweep"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, sweeper *sweep.Sweeper, resolver *monitoring.Resolver, alertService *alerts.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, sweeper, resolver, alertService, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics endpoints (no project required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// API routes (project required)
	router.Route("/", func(r chi.Router) {
		r.Use(ProjectMiddleware)

		// Sweep and monitoring triggers
		r.Post("/sweep", handler.RunSweep)
		r.Post("/monitoring/check", handler.CheckMonitoring)

		// Alert retrieval and bulk mutation
		r.Get("/alerts", handler.ListAlerts)
		r.Patch("/alerts/assign", handler.AssignAlerts)
		r.Patch("/alerts/decision", handler.DecideAlerts)
		r.Get("/alerts/{id}/definition", handler.GetAlertDefinition)

		// Definition management
		r.Get("/definitions", handler.ListDefinitions)
		r.Post("/definitions", handler.CreateDefinition)

		// Ingestion
		r.Post("/transactions", handler.IngestTransaction)
		r.Post("/reports", handler.IngestReport)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
