// Package router translates inbound invocations into either an HTTP call
// built from a capability descriptor or an MCP tool call, and normalizes
// both into one envelope.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpbridge-go/internal/contracts"
	"mcpbridge-go/internal/observability"
	"mcpbridge-go/internal/registry"
)

// toolInvoker is the slice of the agent manager the router needs.
type toolInvoker interface {
	Invoke(ctx context.Context, id, toolName string, args map[string]interface{}) (*contracts.InvocationResult, error)
}

// Router dispatches capability invocations in both directions.
type Router struct {
	store   *registry.Store
	agents  toolInvoker
	client  *http.Client
	metrics *observability.MetricsManager
	logger  *zap.Logger
}

// NewRouter creates a router. metrics may be nil.
func NewRouter(store *registry.Store, agents toolInvoker, callTimeout time.Duration, metrics *observability.MetricsManager, logger *zap.Logger) *Router {
	return &Router{
		store:   store,
		agents:  agents,
		client:  &http.Client{Timeout: callTimeout},
		metrics: metrics,
		logger:  logger.Named("router"),
	}
}

// CallService invokes one OpenAPI operation on a registered service. A
// downstream 4xx/5xx is still a successful routing outcome; only
// transport-level failures flip the success flag. Unknown service or
// operation ids are reported as NotFoundError.
func (r *Router) CallService(ctx context.Context, serviceID string, req *contracts.ServiceCallRequest) (*contracts.InvocationResult, error) {
	svc, err := r.store.GetService(serviceID)
	if err != nil {
		return nil, err
	}

	op, ok := findCapability(svc, req.OperationID)
	if !ok {
		return nil, &registry.NotFoundError{Kind: "operation", ID: req.OperationID}
	}

	target, err := buildTargetURL(svc.BaseURL, op.PathTemplate, req.PathParams, req.QueryParams)
	if err != nil {
		return nil, err
	}

	httpReq, err := buildRequest(ctx, op.Method, target, req)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		r.recordServiceCall(serviceID, "transport_error")
		r.logger.Warn("Service call failed at transport level",
			zap.String("service", serviceID),
			zap.String("operation", req.OperationID),
			zap.Error(err))
		transportErr := &registry.TransportError{Err: err}
		return &contracts.InvocationResult{Success: false, Error: transportErr.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.recordServiceCall(serviceID, "transport_error")
		transportErr := &registry.TransportError{Err: err}
		return &contracts.InvocationResult{Success: false, Error: transportErr.Error()}, nil
	}

	r.recordServiceCall(serviceID, "ok")
	return &contracts.InvocationResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		Data:       decodeBody(body),
		Headers:    flattenHeaders(resp.Header),
	}, nil
}

// CallTool invokes one tool on a registered MCP agent.
func (r *Router) CallTool(ctx context.Context, req *contracts.ToolCallRequest) (*contracts.InvocationResult, error) {
	result, err := r.agents.Invoke(ctx, req.AgentID, req.ToolName, req.Arguments)
	if err != nil {
		return nil, err
	}

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	if r.metrics != nil {
		r.metrics.RecordToolCall(req.AgentID, status)
	}
	return result, nil
}

func (r *Router) recordServiceCall(serviceID, status string) {
	if r.metrics != nil {
		r.metrics.RecordServiceCall(serviceID, status)
	}
}

// findCapability returns the first descriptor matching the operation id.
// Duplicate operation ids within one service are not uniquified; the first
// match wins.
func findCapability(svc *registry.ServiceRecord, operationID string) (*registry.CapabilityDescriptor, bool) {
	for i := range svc.Capabilities {
		if svc.Capabilities[i].OperationID == operationID {
			return &svc.Capabilities[i], true
		}
	}
	return nil, false
}

// buildTargetURL substitutes {key} tokens in the path template and appends
// query parameters.
func buildTargetURL(baseURL, pathTemplate string, pathParams, queryParams map[string]string) (string, error) {
	path := pathTemplate
	for key, value := range pathParams {
		path = strings.ReplaceAll(path, "{"+key+"}", url.PathEscape(value))
	}

	target := strings.TrimRight(baseURL, "/") + path
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target URL %q: %w", target, err)
	}

	if len(queryParams) > 0 {
		query := parsed.Query()
		for key, value := range queryParams {
			query.Set(key, value)
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func buildRequest(ctx context.Context, method, target string, req *contracts.ServiceCallRequest) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// decodeBody parses JSON responses; anything else is passed through as a
// string.
func decodeBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err == nil {
		return data
	}
	return string(body)
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}
	return flat
}
