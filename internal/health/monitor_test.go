package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpbridge-go/internal/registry"
)

func newTestStore(t *testing.T) *registry.Store {
	t.Helper()
	logger := zap.NewNop()
	snapshot, err := registry.NewSnapshot(t.TempDir(), logger)
	require.NoError(t, err)
	return registry.NewStore(snapshot, logger)
}

func newTestMonitor(store *registry.Store) *Monitor {
	return NewMonitor(store, time.Minute, 2*time.Second, nil, zap.NewNop())
}

func addService(store *registry.Store, baseURL, specURL, healthPath string) *registry.ServiceRecord {
	svc := &registry.ServiceRecord{
		ID:         registry.NewServiceID(),
		Name:       "svc",
		BaseURL:    baseURL,
		SpecURL:    specURL,
		HealthPath: healthPath,
		Status:     registry.ServiceStatusUnknown,
	}
	store.UpsertService(svc)
	return svc
}

func TestSweepFirstProbeSuccessWins(t *testing.T) {
	var baseHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.WriteHeader(http.StatusOK)
			return
		}
		baseHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	svc := addService(store, srv.URL, srv.URL+"/openapi.json", "")

	newTestMonitor(store).Sweep(context.Background())

	got, err := store.GetService(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceStatusOnline, got.Status)
	assert.NotNil(t, got.LastSeen)
	assert.Zero(t, baseHits.Load(), "base URL must not be probed after spec URL succeeded")
}

func TestSweepFallsBackToBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	svc := addService(store, srv.URL, srv.URL+"/openapi.json", "")

	newTestMonitor(store).Sweep(context.Background())

	got, err := store.GetService(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceStatusOnline, got.Status)
}

func TestSweepAllErrorResponsesMarksOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newTestStore(t)
	svc := addService(store, srv.URL, srv.URL+"/openapi.json", "/health")

	newTestMonitor(store).Sweep(context.Background())

	got, err := store.GetService(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceStatusOffline, got.Status)
	assert.Nil(t, got.LastSeen)
}

func TestSweepTransportFailureMarksError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	store := newTestStore(t)
	svc := addService(store, srv.URL, srv.URL+"/openapi.json", "")

	newTestMonitor(store).Sweep(context.Background())

	got, err := store.GetService(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceStatusError, got.Status)
}

func TestSweepContinuesPastFailingRecords(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	store := newTestStore(t)
	deadSvc := addService(store, dead.URL, dead.URL+"/openapi.json", "")
	healthySvc := addService(store, healthy.URL, healthy.URL+"/openapi.json", "")

	newTestMonitor(store).Sweep(context.Background())

	gotDead, err := store.GetService(deadSvc.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceStatusError, gotDead.Status)

	gotHealthy, err := store.GetService(healthySvc.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceStatusOnline, gotHealthy.Status)
}

func TestSweepUsesConfiguredHealthPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/internal/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := newTestStore(t)
	svc := addService(store, srv.URL, srv.URL+"/openapi.json", "/internal/health")

	newTestMonitor(store).Sweep(context.Background())

	got, err := store.GetService(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.ServiceStatusOnline, got.Status)
}
