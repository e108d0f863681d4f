// Package contracts defines the wire types shared between the HTTP API and
// the managers behind it.
package contracts

// APIResponse is the envelope every API endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewSuccessResponse creates a successful API response.
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{Success: true, Data: data}
}

// NewErrorResponse creates an error API response.
func NewErrorResponse(message string) APIResponse {
	return APIResponse{Success: false, Error: message}
}

// CreateBridgeRequest asks for a new translation bridge in front of an
// OpenAPI service.
type CreateBridgeRequest struct {
	SpecURL     string   `json:"openapi_url"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// DiscoverRequest asks the registry to probe a base URL for an OpenAPI
// description and register the service it finds.
type DiscoverRequest struct {
	BaseURL string `json:"base_url"`
}

// RegisterAgentRequest registers a stdio MCP server so its tools become
// callable over HTTP.
type RegisterAgentRequest struct {
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ToolCallRequest invokes one tool on a registered MCP agent.
type ToolCallRequest struct {
	AgentID   string                 `json:"agent_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ServiceCallRequest invokes one OpenAPI operation on a registered service.
type ServiceCallRequest struct {
	OperationID string                 `json:"operation_id"`
	PathParams  map[string]string      `json:"path_params,omitempty"`
	QueryParams map[string]string      `json:"query_params,omitempty"`
	Body        map[string]interface{} `json:"body,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// InvocationResult describes the outcome of a routed call, either to an
// OpenAPI operation or an MCP tool. Success reflects whether the call
// reached the target and produced a response; application-level failures
// are reported through StatusCode or IsError. Content carries the tool
// result's parts in order, one rendered entry per part.
type InvocationResult struct {
	Success    bool              `json:"success"`
	Content    []string          `json:"content,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Data       interface{}       `json:"data,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// StatsResponse summarizes everything the registry currently tracks.
type StatsResponse struct {
	Services ServiceStats `json:"openapi_servers"`
	Bridges  BridgeStats  `json:"bridges"`
	Agents   AgentStats   `json:"mcp_servers"`
	Uptime   float64      `json:"uptime_seconds"`
}

type ServiceStats struct {
	Total        int `json:"total"`
	Online       int `json:"online"`
	Capabilities int `json:"endpoints"`
}

type BridgeStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
}

type AgentStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Tools   int `json:"tools"`
}
