package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Server runs the HTTP/websocket/Prometheus endpoints for a running
// backtest: /health, /api/progress, /ws, and /metrics.
type Server struct {
	broadcaster *Broadcaster
	handlers    *Handlers
	metrics     *Metrics
	server      *http.Server
	logger      *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewServer builds a monitor server listening on addr. allowedOrigins
// restricts websocket upgrades; empty means localhost plus the
// request's own host.
func NewServer(addr string, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	broadcaster := NewBroadcaster(logger)
	handlers := NewHandlers(broadcaster, allowedOrigins, logger)
	metrics := NewMetrics()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/progress", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		broadcaster: broadcaster,
		handlers:    handlers,
		metrics:     metrics,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "monitor-server"),
	}
}

// Start launches the broadcaster loop and the HTTP listener on an
// errgroup and returns immediately. Listener failures surface from
// Stop, which waits for both goroutines.
func (s *Server) Start() error {
	if s.group != nil {
		return fmt.Errorf("monitor: server already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)

	s.logger.Info("monitor server starting", "addr", s.server.Addr)
	s.group.Go(func() error {
		return s.broadcaster.Run(ctx)
	})
	s.group.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("monitor: server error: %w", err)
		}
		return nil
	})
	return nil
}

// Stop gracefully shuts the HTTP server down, stops the broadcaster,
// and returns the first error either produced.
func (s *Server) Stop() error {
	s.logger.Info("stopping monitor server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		if werr := s.group.Wait(); err == nil {
			err = werr
		}
	}
	return err
}

// Report records one progress snapshot: it updates the Prometheus
// gauges, caches it for HandleSnapshot, and offers it to the
// broadcaster. Intended to be wired directly to the engine's
// progress/update callbacks.
func (s *Server) Report(snapshot ProgressSnapshot) {
	s.metrics.UpdateProgress(snapshot)
	s.handlers.SetLatest(snapshot)
	s.broadcaster.Offer(snapshot)
}

// SetEventsPerSecond records the engine's current throughput figure.
func (s *Server) SetEventsPerSecond(v float64) { s.metrics.SetEventsPerSecond(v) }
