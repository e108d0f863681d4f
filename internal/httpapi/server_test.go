package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpbridge-go/internal/contracts"
	"mcpbridge-go/internal/registry"
)

type fakeBridges struct {
	created   *registry.TranslationRecord
	createErr error
	started   map[string]bool
	stopErr   error
}

func (f *fakeBridges) Create(_ context.Context, req *contracts.CreateBridgeRequest) (*registry.TranslationRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeBridges) Start(_ context.Context, id string) (*registry.TranslationRecord, error) {
	if f.started == nil {
		f.started = make(map[string]bool)
	}
	f.started[id] = true
	rec := *f.created
	rec.Status = registry.StatusRunning
	rec.PID = 4242
	return &rec, nil
}

func (f *fakeBridges) Stop(_ context.Context, id string) (*registry.TranslationRecord, error) {
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	rec := *f.created
	rec.Status = registry.StatusStopped
	return &rec, nil
}

func (f *fakeBridges) Delete(_ context.Context, id string) error {
	if id != f.created.ID {
		return &registry.NotFoundError{Kind: "bridge", ID: id}
	}
	return nil
}

type fakeAgents struct {
	registered *registry.ToolAgentRecord
	tools      []registry.ToolDescriptor
}

func (f *fakeAgents) Register(req *contracts.RegisterAgentRequest) (*registry.ToolAgentRecord, error) {
	if req.Name == "" || req.Command == "" {
		return nil, assert.AnError
	}
	return f.registered, nil
}

func (f *fakeAgents) Start(_ context.Context, id string) (*registry.ToolAgentRecord, error) {
	rec := *f.registered
	rec.Status = registry.StatusRunning
	return &rec, nil
}

func (f *fakeAgents) Stop(_ context.Context, id string) (*registry.ToolAgentRecord, error) {
	rec := *f.registered
	rec.Status = registry.StatusStopped
	return &rec, nil
}

func (f *fakeAgents) Delete(_ context.Context, id string) error { return nil }

func (f *fakeAgents) Tools(_ context.Context, id string) ([]registry.ToolDescriptor, error) {
	if id != f.registered.ID {
		return nil, &registry.NotFoundError{Kind: "agent", ID: id}
	}
	return f.tools, nil
}

type fakeCalls struct {
	serviceResult *contracts.InvocationResult
	toolResult    *contracts.InvocationResult
	err           error
}

func (f *fakeCalls) CallService(_ context.Context, serviceID string, req *contracts.ServiceCallRequest) (*contracts.InvocationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.serviceResult, nil
}

func (f *fakeCalls) CallTool(_ context.Context, req *contracts.ToolCallRequest) (*contracts.InvocationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.toolResult, nil
}

type fakeDiscoverer struct {
	record *registry.ServiceRecord
	err    error
}

func (f *fakeDiscoverer) Discover(_ context.Context, baseURL string) (*registry.ServiceRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

type fixture struct {
	server  *Server
	store   *registry.Store
	bridges *fakeBridges
	agents  *fakeAgents
	calls   *fakeCalls
	disc    *fakeDiscoverer
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	logger := zap.NewNop()
	snapshot, err := registry.NewSnapshot(t.TempDir(), logger)
	require.NoError(t, err)
	store := registry.NewStore(snapshot, logger)

	svc := &registry.ServiceRecord{
		ID:      "openapi_test0001",
		Name:    "Pet Store",
		BaseURL: "http://127.0.0.1:8001",
		SpecURL: "http://127.0.0.1:8001/openapi.json",
		Capabilities: []registry.CapabilityDescriptor{
			{OperationID: "list_pets", Method: "GET", PathTemplate: "/pets"},
		},
		Status: registry.ServiceStatusOnline,
	}

	f := &fixture{
		store: store,
		bridges: &fakeBridges{created: &registry.TranslationRecord{
			ID:      "bridge_01TEST",
			Name:    "Pet Store",
			Service: svc,
			Port:    8100,
			Status:  registry.StatusStopped,
		}},
		agents: &fakeAgents{
			registered: &registry.ToolAgentRecord{
				ID:      "mcp_test0001",
				Name:    "calc",
				Command: "calc-agent",
				Status:  registry.StatusStopped,
			},
			tools: []registry.ToolDescriptor{{Name: "add"}},
		},
		calls: &fakeCalls{
			serviceResult: &contracts.InvocationResult{Success: true, StatusCode: 200},
			toolResult:    &contracts.InvocationResult{Success: true, Content: []string{"3"}},
		},
		disc: &fakeDiscoverer{record: svc},
	}
	f.server = NewServer(store, f.bridges, f.agents, f.calls, f.disc, nil, apiKey, "1.0.0-test", logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) contracts.APIResponse {
	t.Helper()
	var resp contracts.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRootEndpoint(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "mcpbridge", body["service"])
	assert.Equal(t, "1.0.0-test", body["version"])
	assert.Contains(t, body, "stats")
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil, nil).Code)
}

func TestAPIKeyEnforcement(t *testing.T) {
	f := newFixture(t, "secret")

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/stats", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/stats", nil, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Query parameter fallback.
	rec = f.do(t, http.MethodGet, "/api/v1/stats?apikey=secret", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Liveness stays open.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestDiscoverRegistersService(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/servers/discover", map[string]string{"base_url": "http://127.0.0.1:8001"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)

	stored, err := f.store.GetService("openapi_test0001")
	require.NoError(t, err)
	assert.Equal(t, "Pet Store", stored.Name)
}

func TestRediscoverSameBaseURLKeepsID(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/servers/discover", map[string]string{"base_url": "http://127.0.0.1:8001"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	f.disc.record = &registry.ServiceRecord{
		ID:      "openapi_ffff0009",
		Name:    "Pet Store v2",
		BaseURL: "http://127.0.0.1:8001",
		SpecURL: "http://127.0.0.1:8001/openapi.json",
		Status:  registry.ServiceStatusUnknown,
	}
	rec = f.do(t, http.MethodPost, "/api/v1/servers/discover", map[string]string{"base_url": "http://127.0.0.1:8001"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, f.store.ListServices(), 1)
	stored, err := f.store.GetService("openapi_test0001")
	require.NoError(t, err)
	assert.Equal(t, "Pet Store v2", stored.Name)
}

func TestDiscoverMissIs404(t *testing.T) {
	f := newFixture(t, "")
	f.disc.err = &registry.DiscoveryError{BaseURL: "http://127.0.0.1:9"}

	rec := f.do(t, http.MethodPost, "/api/v1/servers/discover", map[string]string{"base_url": "http://127.0.0.1:9"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
	assert.Empty(t, f.store.ListServices())
}

func TestDiscoverRequiresBaseURL(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/v1/servers/discover", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerCRUD(t *testing.T) {
	f := newFixture(t, "")
	f.store.UpsertService(f.disc.record)

	rec := f.do(t, http.MethodGet, "/api/v1/servers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/servers/openapi_test0001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/servers/openapi_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/servers/openapi_test0001/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	caps, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, caps, 1)

	rec = f.do(t, http.MethodDelete, "/api/v1/servers/openapi_test0001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.ListServices())
}

func TestDeleteServerWithDependentBridges(t *testing.T) {
	f := newFixture(t, "")
	f.store.UpsertService(f.disc.record)
	f.store.UpsertBridge(f.bridges.created)

	rec := f.do(t, http.MethodDelete, "/api/v1/servers/openapi_test0001", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestCreateBridge(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/bridges", map[string]string{"openapi_url": "http://127.0.0.1:8001/openapi.json"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "stopped", data["status"])
	assert.Empty(t, f.bridges.started)
}

func TestCreateBridgeWithAutoStart(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/bridges?start=true", map[string]string{"openapi_url": "http://127.0.0.1:8001/openapi.json"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeEnvelope(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "running", data["status"])
	assert.True(t, f.bridges.started["bridge_01TEST"])
}

func TestCreateBridgeDiscoveryFailure(t *testing.T) {
	f := newFixture(t, "")
	f.bridges.createErr = &registry.DiscoveryError{BaseURL: "http://127.0.0.1:9"}

	rec := f.do(t, http.MethodPost, "/api/v1/bridges", map[string]string{"openapi_url": "http://127.0.0.1:9"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBridgeRequiresSpecURL(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/v1/bridges", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBridgeLifecycleEndpoints(t *testing.T) {
	f := newFixture(t, "")
	f.store.UpsertService(f.disc.record)
	f.store.UpsertBridge(f.bridges.created)

	rec := f.do(t, http.MethodPost, "/api/v1/bridges/bridge_01TEST/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "running", data["status"])

	rec = f.do(t, http.MethodPost, "/api/v1/bridges/bridge_01TEST/stop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/bridges/bridge_01TEST", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/bridges/bridge_unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentEndpoints(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/agents", map[string]interface{}{"name": "calc", "command": "calc-agent"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	f.store.UpsertAgent(f.agents.registered)

	rec = f.do(t, http.MethodGet, "/api/v1/agents", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/agents/mcp_test0001/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "running", data["status"])

	rec = f.do(t, http.MethodGet, "/api/v1/agents/mcp_test0001/tools", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tools := decodeEnvelope(t, rec).Data.([]interface{})
	assert.Len(t, tools, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/agents/mcp_missing/tools", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/agents/mcp_test0001/stop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCallServiceEndpoint(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/servers/openapi_test0001/call",
		map[string]interface{}{"operation_id": "list_pets"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result contracts.InvocationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 200, result.StatusCode)
}

func TestCallServiceRequiresOperationID(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/v1/servers/openapi_test0001/call", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallServiceUnknownOperation(t *testing.T) {
	f := newFixture(t, "")
	f.calls.err = &registry.NotFoundError{Kind: "operation", ID: "nope"}

	rec := f.do(t, http.MethodPost, "/api/v1/servers/openapi_test0001/call",
		map[string]interface{}{"operation_id": "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallToolEndpoint(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/tools/call",
		map[string]interface{}{"agent_id": "mcp_test0001", "tool_name": "add", "arguments": map[string]int{"a": 1, "b": 2}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result contracts.InvocationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, []string{"3"}, result.Content)
}

func TestCallToolValidation(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/v1/tools/call", map[string]interface{}{"agent_id": "mcp_test0001"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, "")
	f.store.UpsertService(f.disc.record)
	f.store.UpsertBridge(f.bridges.created)
	f.store.UpsertAgent(f.agents.registered)

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)

	services := data["openapi_servers"].(map[string]interface{})
	assert.Equal(t, float64(1), services["total"])
	assert.Equal(t, float64(1), services["online"])
	assert.Equal(t, float64(1), services["endpoints"])

	bridges := data["bridges"].(map[string]interface{})
	assert.Equal(t, float64(1), bridges["total"])
	assert.Equal(t, float64(0), bridges["running"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodOptions, "/api/v1/stats", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvalidJSONBody(t *testing.T) {
	f := newFixture(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bridges", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
