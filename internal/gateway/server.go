// Package gateway exposes the run engine over HTTP. It serves a small
// JSON API for threads and messages, streams run events over SSE, and
// hosts the Prometheus endpoint on a separate listener so scrapes never
// contend with API traffic.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/strand/internal/auth"
	"github.com/haasonsaas/strand/internal/config"
	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/internal/threads"
)

// Server hosts the HTTP API and the metrics listener.
type Server struct {
	config  *config.Config
	store   threads.Store
	manager *runtime.Manager
	auth    *auth.Service
	logger  *observability.Logger
	metrics *observability.Metrics

	httpServer      *http.Server
	httpListener    net.Listener
	metricsServer   *http.Server
	metricsListener net.Listener
}

// New wires a server from its dependencies. The auth service may be nil
// or disabled, in which case the API is open.
func New(cfg *config.Config, store threads.Store, manager *runtime.Manager, authService *auth.Service, logger *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		config:  cfg,
		store:   store,
		manager: manager,
		auth:    authService,
		logger:  logger,
		metrics: metrics,
	}
}

// Handler returns the full API handler: routed endpoints behind auth,
// health check open, request logging and metrics around everything.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/threads", s.handleThreads)
	api.HandleFunc("/v1/threads/", s.handleThread)
	api.HandleFunc("/v1/runs/", s.handleRun)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/v1/", auth.Middleware(s.auth, s.logger)(api))

	var handler http.Handler = mux
	handler = requestMetrics(s.metrics)(handler)
	handler = requestLogging(s.logger)(handler)
	return handler
}

// Start begins serving on the configured API and metrics ports. It
// returns once both listeners are bound; serving continues in the
// background until Stop.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error(ctx, "http server error", "error", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info(ctx, "starting http server", "addr", addr)
	}

	if err := s.startMetricsServer(ctx); err != nil {
		s.stopHTTPServer(ctx)
		return err
	}

	return nil
}

func (s *Server) startMetricsServer(ctx context.Context) error {
	if s.config.Server.MetricsPort == 0 {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.MetricsPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.metricsListener = listener

	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error(ctx, "metrics server error", "error", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info(ctx, "starting metrics server", "addr", addr)
	}

	return nil
}

// Stop drains the server: active runs are canceled and waited on first
// so in-flight SSE streams end with their halt event, then the listeners
// shut down.
func (s *Server) Stop(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info(ctx, "stopping server")
	}

	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			if s.logger != nil {
				s.logger.Warn(ctx, "run shutdown incomplete", "error", err)
			}
		}
	}

	s.stopHTTPServer(ctx)
	s.stopMetricsServer(ctx)
	return nil
}

func (s *Server) stopHTTPServer(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && s.logger != nil {
		s.logger.Warn(shutdownCtx, "http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.httpListener = nil
}

func (s *Server) stopMetricsServer(ctx context.Context) {
	if s.metricsServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.metricsServer.Shutdown(shutdownCtx); err != nil && s.logger != nil {
		s.logger.Warn(shutdownCtx, "metrics server shutdown error", "error", err)
	}
	s.metricsServer = nil
	s.metricsListener = nil
}

// Addr returns the bound API address, useful when the configured port
// was 0.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
