package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/logging"
)

const (
	// DefaultAddr is the default address for the metrics and health server.
	DefaultAddr = ":9090"

	// DefaultReadTimeout is the default read header timeout.
	DefaultReadTimeout = 10 * time.Second

	// DefaultWriteTimeout is the default write timeout.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the default idle timeout.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds configuration for the metrics and health server.
type Config struct {
	// Addr is the address to bind to (e.g., ":9090").
	Addr string

	// InstrumentationProvider exposes /metrics when its Prometheus exporter
	// is active. May be nil.
	InstrumentationProvider *instrumentation.Provider

	// Health serves the probe endpoints. Required.
	Health *HealthChecker

	Logger *slog.Logger
}

// Server serves Prometheus metrics and health probes on a dedicated port,
// separate from any traffic the pipeline itself generates.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New creates the server. The listener is not opened until Start.
func New(config Config) (*Server, error) {
	if config.Health == nil {
		return nil, errors.New("health checker is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	if config.InstrumentationProvider.PrometheusEnabled() {
		// The OpenTelemetry Prometheus exporter registers with the default
		// registry, which promhttp.Handler exposes.
		mux.Handle("/metrics", promhttp.Handler())
	}
	config.Health.RegisterHealthEndpoints(mux)

	return &Server{
		addr:    config.Addr,
		handler: mux,
		logger:  logging.WithComponent(config.Logger, "server"),
	}, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until Shutdown. It blocks and returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting metrics server", slog.String("addr", ln.Addr().String()))
	return srv.Serve(ln)
}

// Shutdown gracefully shuts down the server. It is a no-op before Start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return srv.Shutdown(ctx)
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
