// Package bridge manages the lifecycle of OpenAPI-to-MCP translation
// processes: one worker per registered service, each listening on its own
// allocated port.
package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpbridge-go/internal/contracts"
	"mcpbridge-go/internal/registry"
)

// specResolver is the slice of the discoverer the manager needs.
type specResolver interface {
	Discover(ctx context.Context, baseURL string) (*registry.ServiceRecord, error)
	DiscoverSpec(ctx context.Context, specURL string) (*registry.ServiceRecord, error)
}

// Manager creates, starts, stops and deletes translation bridges.
type Manager struct {
	store      *registry.Store
	discoverer specResolver
	ports      *registry.PortAllocator
	launcher   Launcher
	locks      bridgeLock
	procs      sync.Map // bridge ID -> Process
	logger     *zap.Logger
}

// NewManager creates a bridge manager.
func NewManager(store *registry.Store, discoverer specResolver, ports *registry.PortAllocator, launcher Launcher, logger *zap.Logger) *Manager {
	return &Manager{
		store:      store,
		discoverer: discoverer,
		ports:      ports,
		launcher:   launcher,
		logger:     logger.Named("bridge"),
	}
}

// Create resolves the OpenAPI document behind the request, registers the
// service it describes, and records a stopped bridge with a freshly
// allocated port. The process is not started here.
func (m *Manager) Create(ctx context.Context, req *contracts.CreateBridgeRequest) (*registry.TranslationRecord, error) {
	svc, err := m.discoverer.DiscoverSpec(ctx, req.SpecURL)
	if err != nil {
		// The URL may be a service root rather than a document; probe the
		// well-known locations before giving up.
		svc, err = m.discoverer.Discover(ctx, req.SpecURL)
		if err != nil {
			return nil, err
		}
	}

	if req.Name != "" {
		svc.Name = req.Name
	}
	if req.Description != "" {
		svc.Description = req.Description
	}
	svc.Tags = req.Tags
	m.store.UpsertService(svc)

	rec := &registry.TranslationRecord{
		ID:        registry.NewBridgeID(),
		Name:      svc.Name,
		Service:   svc,
		Port:      m.ports.Next(),
		Status:    registry.StatusStopped,
		CreatedAt: time.Now().UTC(),
	}
	m.store.UpsertBridge(rec)

	m.logger.Info("Created bridge",
		zap.String("bridge", rec.ID),
		zap.String("service", svc.ID),
		zap.Int("port", rec.Port))
	return rec, nil
}

// Start launches the worker process for a bridge. Starting a bridge that is
// already running is a no-op; concurrent starts for the same bridge
// serialize on a per-bridge lock so only one process is spawned.
func (m *Manager) Start(ctx context.Context, id string) (*registry.TranslationRecord, error) {
	lock := m.locks.Lock(id)
	defer lock.Unlock()

	rec, err := m.store.GetBridge(id)
	if err != nil {
		return nil, err
	}
	if rec.Status == registry.StatusRunning {
		return rec, nil
	}

	rec, err = m.store.UpdateBridge(id, func(b *registry.TranslationRecord) {
		b.Status = registry.StatusStarting
	})
	if err != nil {
		return nil, err
	}

	proc, err := m.launcher.Launch(ctx, rec)
	if err != nil {
		if _, uerr := m.store.UpdateBridge(id, func(b *registry.TranslationRecord) {
			b.Status = registry.StatusError
			b.PID = 0
		}); uerr != nil {
			m.logger.Warn("Bridge removed while marking start failure", zap.String("bridge", id))
		}
		m.logger.Error("Bridge process failed to start",
			zap.String("bridge", id), zap.Error(err))
		return nil, &registry.ProcessSpawnError{ID: id, Err: err}
	}

	m.procs.Store(id, proc)
	now := time.Now().UTC()
	rec, err = m.store.UpdateBridge(id, func(b *registry.TranslationRecord) {
		b.Status = registry.StatusRunning
		b.PID = proc.PID()
		b.LastHealthCheck = &now
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Started bridge",
		zap.String("bridge", id),
		zap.Int("pid", rec.PID),
		zap.Int("port", rec.Port))
	return rec, nil
}

// Stop terminates the worker process for a bridge. Stopping a bridge that is
// not running is a no-op.
func (m *Manager) Stop(ctx context.Context, id string) (*registry.TranslationRecord, error) {
	lock := m.locks.Lock(id)
	defer lock.Unlock()

	rec, err := m.store.GetBridge(id)
	if err != nil {
		return nil, err
	}

	if proc, ok := m.procs.LoadAndDelete(id); ok {
		if err := proc.(Process).Stop(ctx); err != nil {
			m.logger.Warn("Error stopping bridge process",
				zap.String("bridge", id), zap.Error(err))
		}
	}

	if rec.Status != registry.StatusStopped {
		rec, err = m.store.UpdateBridge(id, func(b *registry.TranslationRecord) {
			b.Status = registry.StatusStopped
			b.PID = 0
		})
		if err != nil {
			return nil, err
		}
		m.logger.Info("Stopped bridge", zap.String("bridge", id))
	}
	return rec, nil
}

// Delete stops the bridge if needed and removes its record. The registered
// service stays; other bridges or direct calls may still use it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.Stop(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeleteBridge(id); err != nil {
		return err
	}
	m.locks.Forget(id)
	return nil
}

// StopAll terminates every running bridge process; used during shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, rec := range m.store.ListBridges() {
		if rec.Status == registry.StatusRunning || rec.Status == registry.StatusStarting {
			if _, err := m.Stop(ctx, rec.ID); err != nil {
				m.logger.Warn("Failed to stop bridge during shutdown",
					zap.String("bridge", rec.ID), zap.Error(err))
			}
		}
	}
}
