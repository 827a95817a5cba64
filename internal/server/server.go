// Package server exposes the bot's read-only HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/server/handler"
	"github.com/valentinrey/fundingbot/internal/server/middleware"
	"github.com/valentinrey/fundingbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Rates         *handler.RatesHandler
	Opportunities *handler.OpportunitiesHandler
	Positions     *handler.PositionsHandler
	Executions    *handler.ExecutionsHandler
	Summary       *handler.SummaryHandler
	// Archives is nil when S3 is disabled; its routes are then not
	// registered.
	Archives *handler.ArchivesHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered. Middleware order is
// CORS, then request logging, then auth, then optional rate limiting; the
// health and metrics endpoints bypass auth.
func New(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and Prometheus metrics stay unauthenticated for probes and
	// scrapers.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Authenticated API.
	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/rates", handlers.Rates.ListRates)
	api.HandleFunc("GET /api/rates/history", handlers.Rates.RateHistory)
	api.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListOpportunities)
	api.HandleFunc("GET /api/opportunities/{symbol}", handlers.Opportunities.GetOpportunity)
	api.HandleFunc("GET /api/positions", handlers.Positions.ListOpen)
	api.HandleFunc("GET /api/positions/history", handlers.Positions.ListHistory)
	api.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	api.HandleFunc("GET /api/executions", handlers.Executions.ListExecutions)
	api.HandleFunc("GET /api/executions/{id}", handlers.Executions.GetExecution)
	api.HandleFunc("GET /api/summary", handlers.Summary.GetSummary)
	if handlers.Archives != nil {
		api.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
		api.HandleFunc("GET /api/archives/{path...}", handlers.Archives.GetArchive)
	}
	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var protected http.Handler = api
	if limiter != nil {
		protected = middleware.RateLimit(limiter, 60, time.Minute)(protected)
	}
	protected = middleware.Auth(cfg.APIKey)(protected)
	mux.Handle("/", protected)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With("component", "server"),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
