// Package server assembles the daemon: storage, managers, health monitor
// and the HTTP API, with ordered startup and shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mcpbridge-go/internal/agent"
	"mcpbridge-go/internal/bridge"
	"mcpbridge-go/internal/config"
	"mcpbridge-go/internal/discovery"
	"mcpbridge-go/internal/health"
	"mcpbridge-go/internal/httpapi"
	"mcpbridge-go/internal/observability"
	"mcpbridge-go/internal/registry"
	"mcpbridge-go/internal/router"
)

const shutdownTimeout = 10 * time.Second

// Server is the assembled daemon.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *registry.Store
	bridges *bridge.Manager
	agents  *agent.Manager
	monitor *health.Monitor
	httpSrv *http.Server
}

// New wires all components. State is loaded from the data dir and the port
// allocator is seeded past any persisted bridge port.
func New(cfg *config.Config, version string, logger *zap.Logger) (*Server, error) {
	snapshot, err := registry.NewSnapshot(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open data dir: %w", err)
	}

	store := registry.NewStore(snapshot, logger)
	store.Load()

	ports := registry.NewPortAllocator(cfg.BasePort)
	ports.Seed(store.ListBridges())

	discoverer := discovery.NewDiscoverer(cfg.DiscoverTimeout, logger)
	launcher := bridge.NewExecLauncher(cfg, logger)
	bridges := bridge.NewManager(store, discoverer, ports, launcher, logger)

	agents := agent.NewManager(store, logger)
	agents.SeedFromConfig(cfg.ToolAgents)

	metrics := observability.NewMetricsManager()
	calls := router.NewRouter(store, agents, cfg.CallTimeout, metrics, logger)
	monitor := health.NewMonitor(store, cfg.HealthCheckInterval, cfg.ProbeTimeout, metrics, logger)

	api := httpapi.NewServer(store, bridges, agents, calls, discoverer, metrics, cfg.APIKey, version, logger)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		bridges: bridges,
		agents:  agents,
		monitor: monitor,
		httpSrv: &http.Server{
			Addr:              cfg.Listen,
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run starts the health monitor and HTTP server and blocks until the
// context is cancelled, then shuts everything down in reverse order.
func (s *Server) Run(ctx context.Context) error {
	if err := s.monitor.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.cfg.Listen))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.monitor.Stop()
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP shutdown did not finish cleanly", zap.Error(err))
	}
	s.monitor.Stop()
	s.bridges.StopAll(shutdownCtx)
	s.agents.CloseAll(shutdownCtx)

	s.logger.Info("Shutdown complete")
	return nil
}
