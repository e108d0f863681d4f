// Package registry holds the record types and the in-memory store that back
// the bridge daemon: discovered OpenAPI services, their MCP translation
// bridges, and registered tool agents.
package registry

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ServiceStatus is the liveness status of a discovered OpenAPI service.
type ServiceStatus string

const (
	ServiceStatusUnknown ServiceStatus = "unknown"
	ServiceStatusOnline  ServiceStatus = "online"
	ServiceStatusOffline ServiceStatus = "offline"
	ServiceStatusError   ServiceStatus = "error"
)

// ProcessStatus is the lifecycle status of a bridge or tool-agent process.
type ProcessStatus string

const (
	StatusStopped  ProcessStatus = "stopped"
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusError    ProcessStatus = "error"
)

// ParameterSpec describes one declared parameter of an OpenAPI operation.
type ParameterSpec struct {
	Name     string `json:"name"`
	In       string `json:"in"` // path, query, header, body
	Required bool   `json:"required"`
}

// CapabilityDescriptor is one invokable operation extracted from an OpenAPI
// spec at discovery time. It is parsed once and never re-interpreted.
type CapabilityDescriptor struct {
	OperationID  string          `json:"operation_id"`
	Method       string          `json:"method"`
	PathTemplate string          `json:"path"`
	Summary      string          `json:"summary,omitempty"`
	Description  string          `json:"description,omitempty"`
	Parameters   []ParameterSpec `json:"parameters,omitempty"`
}

// ServiceRecord is a discovered OpenAPI service and its capability list.
type ServiceRecord struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	BaseURL      string                 `json:"base_url"`
	SpecURL      string                 `json:"openapi_url"`
	Description  string                 `json:"description,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Capabilities []CapabilityDescriptor `json:"endpoints,omitempty"`

	// HealthPath is an explicitly configured health endpoint. Empty means
	// none was configured and the health monitor probes spec and base URL
	// only.
	HealthPath string `json:"health_path,omitempty"`

	Status   ServiceStatus `json:"status"`
	LastSeen *time.Time    `json:"last_seen,omitempty"`
}

// TranslationRecord is a bridge process that exposes a ServiceRecord through
// the MCP session protocol. The Service pointer is shared with the store's
// service collection so service mutations stay visible to the bridge.
type TranslationRecord struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Service *ServiceRecord `json:"openapi_server"`
	Port    int            `json:"port"`

	// PID is the identifier of the spawned bridge process. Zero while the
	// bridge is not running; the status may be "running" only while PID is
	// set.
	PID int `json:"process_id,omitempty"`

	Status          ProcessStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	LastHealthCheck *time.Time    `json:"last_health_check,omitempty"`
}

// ToolDescriptor is one capability advertised by a tool agent, cached after
// a successful list-tools handshake.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// ToolAgentRecord is a process definition that exposes capabilities via the
// MCP session protocol directly, independent of any HTTP service.
type ToolAgentRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	Description string   `json:"description,omitempty"`

	// Tools is non-empty only if the agent reached the running state at
	// least once.
	Tools []ToolDescriptor `json:"tools,omitempty"`

	Status          ProcessStatus `json:"status"`
	PID             int           `json:"process_id,omitempty"`
	LastHealthCheck *time.Time    `json:"last_health_check,omitempty"`
}

// NewServiceID returns a fresh service record id, e.g. "openapi_3fa85f64".
func NewServiceID() string {
	return "openapi_" + shortUUID()
}

// NewAgentID returns a fresh tool-agent record id, e.g. "mcp_3fa85f64".
func NewAgentID() string {
	return "mcp_" + shortUUID()
}

// NewBridgeID returns a fresh translation record id. ULIDs sort by creation
// time, which keeps bridge listings in creation order.
func NewBridgeID() string {
	return "bridge_" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func shortUUID() string {
	return uuid.New().String()[:8]
}
