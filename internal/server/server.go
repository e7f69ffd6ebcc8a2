package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Carthicc/karlynn/internal/config"
	"github.com/Carthicc/karlynn/internal/metrics"
	"github.com/Carthicc/karlynn/internal/signaling"
)

const shutdownTimeout = 5 * time.Second

// Server is the signaling relay: a hub plus its HTTP front.
type Server struct {
	cfg     *config.Server
	hub     *signaling.Hub
	handler http.Handler
	logger  *slog.Logger
}

// New builds the hub and routes. The hub does not run until Run or RunHub.
func New(cfg *config.Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		relayMetrics *metrics.Relay
		gatherer     prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		relayMetrics = metrics.NewRelay(reg)
		gatherer = reg
	}

	hub := signaling.NewHub(logger, relayMetrics)
	return &Server{
		cfg:     cfg,
		hub:     hub,
		handler: NewRouter(hub, cfg, gatherer, logger),
		logger:  logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Hub() *signaling.Hub {
	return s.hub
}

// Run serves until ctx is cancelled, then shuts the listener down and closes
// every connection.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting signaling server", "addr", s.cfg.Addr, "metrics", s.cfg.MetricsEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; the hub closes them.
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
