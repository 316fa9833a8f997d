package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/examples"
	"github.com/isdmx/playground/playground"
	"github.com/isdmx/playground/sandbox"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP JSON API of the playground
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	session    *playground.Session
	components *sandbox.ComponentExecutor
	catalog    *examples.Catalog
	gatherer   prometheus.Gatherer
	metrics    *httpMetrics
	limiter    *RateLimiter
	router     *chi.Mux
	httpServer *http.Server
}

// New creates the API server and its routes
func New(
	cfg *config.Config,
	logger *zap.Logger,
	session *playground.Session,
	components *sandbox.ComponentExecutor,
	catalog *examples.Catalog,
	reg prometheus.Registerer,
	gatherer prometheus.Gatherer,
) (*Server, error) {
	metrics, err := newHTTPMetrics(reg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		session:    session,
		components: components,
		catalog:    catalog,
		gatherer:   gatherer,
		metrics:    metrics,
		router:     chi.NewRouter(),
	}
	s.limiter = NewRateLimiter(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst,
		cfg.API.ClientRPS, cfg.API.ClientBurst, cfg.API.MaxConcurrent, metrics.rateLimited.Inc)

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(requestLogger(s.logger, s.metrics))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.With(s.limiter.Middleware).Post("/execute", s.handleExecute)
		r.With(s.limiter.Middleware).Post("/components", s.handleComponent)
		r.Post("/validate", s.handleValidate)
		r.Post("/format", s.handleFormat)

		r.Get("/examples", s.handleListExamples)
		r.Get("/examples/{id}", s.handleGetExample)
		r.Post("/examples", s.handleAddExample)
		r.Delete("/examples/{id}", s.handleRemoveExample)

		r.Get("/session", s.handleGetSession)
		r.Delete("/session", s.handleResetSession)
	})
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves in the background
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.API.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API", zap.String("addr", listener.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping HTTP API")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// writeTimeout leaves room for the longest execution the config allows
func (s *Server) writeTimeout() time.Duration {
	return s.config.GetMaxTimeout() + 15*time.Second
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
