// Package health runs the recurring liveness sweep over registered
// OpenAPI services.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mcpbridge-go/internal/observability"
	"mcpbridge-go/internal/registry"
)

// Monitor re-probes every known service on a fixed interval. Probe failures
// are expected and noisy, so they are never logged above debug and one
// record's failures never abort the sweep.
type Monitor struct {
	store    *registry.Store
	client   *http.Client
	interval time.Duration
	metrics  *observability.MetricsManager
	logger   *zap.Logger

	cron *cron.Cron
}

// NewMonitor creates a health monitor. metrics may be nil.
func NewMonitor(store *registry.Store, interval, probeTimeout time.Duration, metrics *observability.MetricsManager, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:    store,
		client:   &http.Client{Timeout: probeTimeout},
		interval: interval,
		metrics:  metrics,
		logger:   logger.Named("health"),
	}
}

// Start runs one immediate sweep and schedules the recurring one.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(spec, func() { m.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule health sweep: %w", err)
	}

	go m.Sweep(ctx)
	m.cron.Start()

	m.logger.Info("Health monitor started", zap.Duration("interval", m.interval))
	return nil
}

// Stop cancels the recurring sweep and waits for an in-flight one.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// Sweep probes every service once. Records are probed in parallel; the
// probes for one record run sequentially and stop at the first success.
func (m *Monitor) Sweep(ctx context.Context) {
	services := m.store.ListServices()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc *registry.ServiceRecord) {
			defer wg.Done()
			m.probeService(ctx, svc)
		}(svc)
	}
	wg.Wait()

	if m.metrics != nil {
		m.metrics.RecordHealthSweep()
	}
	m.logger.Debug("Health sweep completed", zap.Int("services", len(services)))
}

// probeService tries the service's probe targets in priority order and
// updates its status: first response below 400 wins and marks it online,
// any HTTP response without a success marks it offline, and nothing but
// transport failures marks it error.
func (m *Monitor) probeService(ctx context.Context, svc *registry.ServiceRecord) {
	sawResponse := false
	for _, target := range probeTargets(svc) {
		status, err := m.probe(ctx, target)
		if err != nil {
			m.logger.Debug("Health probe failed",
				zap.String("service", svc.ID),
				zap.String("url", target),
				zap.Error(err))
			continue
		}
		sawResponse = true
		if status < 400 {
			now := time.Now().UTC()
			if err := m.store.UpdateServiceStatus(svc.ID, registry.ServiceStatusOnline, &now); err != nil {
				m.logger.Debug("Service vanished during sweep", zap.String("service", svc.ID))
			}
			return
		}
	}

	result := registry.ServiceStatusError
	if sawResponse {
		result = registry.ServiceStatusOffline
	}
	if err := m.store.UpdateServiceStatus(svc.ID, result, nil); err != nil {
		m.logger.Debug("Service vanished during sweep", zap.String("service", svc.ID))
	}
}

// probeTargets returns the URLs to try, in order: the spec document, the
// service root, and an explicitly configured health path.
func probeTargets(svc *registry.ServiceRecord) []string {
	targets := make([]string, 0, 3)
	if svc.SpecURL != "" {
		targets = append(targets, svc.SpecURL)
	}
	if svc.BaseURL != "" {
		targets = append(targets, svc.BaseURL)
	}
	if svc.HealthPath != "" {
		targets = append(targets, svc.BaseURL+svc.HealthPath)
	}
	return targets
}

func (m *Monitor) probe(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
