// Package server provides the HTTP server of the treasury service.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fundquorum/treasury/internal/config"
	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/handler"
	"github.com/fundquorum/treasury/internal/health"
	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/middleware"
	"github.com/fundquorum/treasury/internal/service"
	"github.com/fundquorum/treasury/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	stream       *handler.StreamHandler
	healthCheck  *health.HealthChecker
	metrics      *metrics.Metrics
	errorHandler *handler.ErrorHandler
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	svc service.TreasuryServiceInterface,
	healthCheck *health.HealthChecker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	errorHandler := handler.NewErrorHandler(logger)
	handlers := handler.NewHandlers(
		svc,
		validation.NewValidator(),
		handler.NewSessions(),
		errorHandler,
		logger,
		cfg.Server.RequestTimeout,
	)
	stream := handler.NewStreamHandler(svc, cfg.Server.CORSOrigins, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		stream:       stream,
		healthCheck:  healthCheck,
		metrics:      m,
		errorHandler: errorHandler,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	// Setup middleware chain
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Account,
		middleware.Logging(s.logger),
		metrics.Middleware(s.metrics),
		middleware.CORS(s.cfg.Server.CORSOrigins),
	}

	// Add rate limiter if enabled
	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.Burst,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	// Apply middleware to router
	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	if s.healthCheck != nil {
		s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)
	}

	// Snapshot stream
	s.router.Handle("/v1/stream", s.stream).Methods(http.MethodGet)

	// API v1 routes
	s.handlers.RegisterRoutes(s.router)

	// Not found handler
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, errors.ErrCodeNotFound.String(), "endpoint not found", requestID)
	})

	// Method not allowed handler
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, errors.ErrCodeInvalidInput.String(), "method not allowed", requestID)
	})
}

// RunBackground keeps the client sessions in step with broadcast snapshots
// until ctx is done.
func (s *Server) RunBackground(ctx context.Context) {
	s.handlers.RunSessionSync(ctx, s.cfg.Server.SessionIdle)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
