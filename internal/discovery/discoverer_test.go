package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpbridge-go/internal/registry"
)

const sampleSpec = `{
	"openapi": "3.1.0",
	"info": {"title": "Pet Store", "description": "Pets as a service"},
	"paths": {
		"/pets": {
			"get": {"operationId": "list_pets", "summary": "List pets"},
			"post": {"summary": "Create a pet"}
		},
		"/pets/{pet_id}": {
			"get": {
				"operationId": "get_pet",
				"parameters": [
					{"name": "pet_id", "in": "path", "required": true},
					{"name": "verbose", "in": "query"}
				]
			}
		}
	}
}`

func newTestDiscoverer(t *testing.T) *Discoverer {
	t.Helper()
	return NewDiscoverer(2*time.Second, zap.NewNop())
}

func TestDiscoverFindsSpecAtWellKnownPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(sampleSpec))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rec, err := newTestDiscoverer(t).Discover(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Pet Store", rec.Name)
	assert.Equal(t, "Pets as a service", rec.Description)
	assert.Equal(t, srv.URL, rec.BaseURL)
	assert.Equal(t, srv.URL+"/openapi.json", rec.SpecURL)
	assert.Equal(t, registry.ServiceStatusUnknown, rec.Status)
	assert.Contains(t, rec.ID, "openapi_")
	assert.Len(t, rec.Capabilities, 3)
}

func TestDiscoverTriesFallbackPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/swagger.json" {
			_, _ = w.Write([]byte(`{"swagger": "2.0", "info": {"title": "Legacy"}, "paths": {}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rec, err := newTestDiscoverer(t).Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Legacy", rec.Name)
	assert.Empty(t, rec.Capabilities)
}

func TestDiscoverReportsAbsence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestDiscoverer(t).Discover(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, registry.IsDiscoveryError(err))
}

func TestDiscoverRejectsNonSpecJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hello": "world"}`))
	}))
	defer srv.Close()

	_, err := newTestDiscoverer(t).Discover(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, registry.IsDiscoveryError(err))
}

func TestDiscoverSpecDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/api-docs" {
			_, _ = w.Write([]byte(sampleSpec))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rec, err := newTestDiscoverer(t).DiscoverSpec(context.Background(), srv.URL+"/v3/api-docs")
	require.NoError(t, err)
	assert.Equal(t, srv.URL, rec.BaseURL)
	assert.Equal(t, srv.URL+"/v3/api-docs", rec.SpecURL)
}

func TestSynthesizedOperationIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			_, _ = w.Write([]byte(sampleSpec))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rec, err := newTestDiscoverer(t).Discover(context.Background(), srv.URL)
	require.NoError(t, err)

	ids := make(map[string]registry.CapabilityDescriptor)
	for _, cap := range rec.Capabilities {
		ids[cap.OperationID] = cap
	}
	assert.Contains(t, ids, "list_pets")
	assert.Contains(t, ids, "get_pet")
	assert.Contains(t, ids, "post_pets")
	assert.Equal(t, "POST", ids["post_pets"].Method)

	getPet := ids["get_pet"]
	require.Len(t, getPet.Parameters, 2)
	assert.Equal(t, "pet_id", getPet.Parameters[0].Name)
	assert.True(t, getPet.Parameters[0].Required)
	assert.Equal(t, "query", getPet.Parameters[1].In)
}
