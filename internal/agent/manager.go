// Package agent manages stdio MCP tool agents: registration, at most one
// live session per agent, and tool invocation through that session.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"mcpbridge-go/internal/config"
	"mcpbridge-go/internal/contracts"
	"mcpbridge-go/internal/registry"
)

// sessionLock provides per-agent locking so concurrent calls that need a
// session serialize instead of racing two handshakes.
type sessionLock struct {
	locks sync.Map // agent ID -> *sync.Mutex
}

func (sl *sessionLock) Lock(agentID string) *sync.Mutex {
	mutex, _ := sl.locks.LoadOrStore(agentID, &sync.Mutex{})
	m := mutex.(*sync.Mutex)
	m.Lock()
	return m
}

func (sl *sessionLock) Forget(agentID string) {
	sl.locks.Delete(agentID)
}

// Manager owns the session table. Sessions are created lazily on first use
// and torn down on transport failure or explicit stop.
type Manager struct {
	store   *registry.Store
	factory sessionFactory
	locks   sessionLock
	mu      sync.Mutex
	session map[string]mcpSession
	logger  *zap.Logger
}

// NewManager creates an agent manager that spawns stdio MCP sessions.
func NewManager(store *registry.Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		factory: newStdioSession,
		session: make(map[string]mcpSession),
		logger:  logger.Named("agent"),
	}
}

// Register records a new tool agent. The agent is not started; its tool list
// stays empty until the first session handshake.
func (m *Manager) Register(req *contracts.RegisterAgentRequest) (*registry.ToolAgentRecord, error) {
	if req.Name == "" || req.Command == "" {
		return nil, fmt.Errorf("agent name and command are required")
	}

	rec := &registry.ToolAgentRecord{
		ID:          registry.NewAgentID(),
		Name:        req.Name,
		Command:     req.Command,
		Args:        req.Args,
		Description: req.Description,
		Status:      registry.StatusStopped,
	}
	m.store.UpsertAgent(rec)

	m.logger.Info("Registered tool agent",
		zap.String("agent", rec.ID),
		zap.String("name", rec.Name),
		zap.String("command", rec.Command))
	return rec, nil
}

// SeedFromConfig registers agents declared in the config file, skipping
// names that already exist in the persisted registry.
func (m *Manager) SeedFromConfig(agents []*config.AgentConfig) {
	existing := make(map[string]bool)
	for _, rec := range m.store.ListAgents() {
		existing[rec.Name] = true
	}

	for _, ac := range agents {
		if existing[ac.Name] {
			continue
		}
		if _, err := m.Register(&contracts.RegisterAgentRequest{
			Name:        ac.Name,
			Command:     ac.Command,
			Args:        ac.Args,
			Description: ac.Description,
		}); err != nil {
			m.logger.Warn("Skipping configured agent", zap.String("name", ac.Name), zap.Error(err))
		}
	}
}

// Start brings the agent's session up if it is not already running.
func (m *Manager) Start(ctx context.Context, id string) (*registry.ToolAgentRecord, error) {
	_, rec, err := m.ensureSession(ctx, id)
	return rec, err
}

// Tools returns the agent's cached tool list, starting the session first
// when none is live yet.
func (m *Manager) Tools(ctx context.Context, id string) ([]registry.ToolDescriptor, error) {
	_, rec, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Tools, nil
}

// ensureSession returns the live session for the agent, performing the
// spawn, initialize and list-tools handshake when none exists. Any step
// failing discards the partial session and marks the agent errored.
func (m *Manager) ensureSession(ctx context.Context, id string) (mcpSession, *registry.ToolAgentRecord, error) {
	lock := m.locks.Lock(id)
	defer lock.Unlock()

	rec, err := m.store.GetAgent(id)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	sess, ok := m.session[id]
	m.mu.Unlock()
	if ok {
		return sess, rec, nil
	}

	rec, err = m.store.UpdateAgent(id, func(a *registry.ToolAgentRecord) {
		a.Status = registry.StatusStarting
	})
	if err != nil {
		return nil, nil, err
	}

	sess = m.factory(rec)
	tools, err := m.handshake(ctx, sess)
	if err != nil {
		sess.Close()
		if _, uerr := m.store.UpdateAgent(id, func(a *registry.ToolAgentRecord) {
			a.Status = registry.StatusError
			a.PID = 0
		}); uerr != nil {
			m.logger.Warn("Agent removed while marking handshake failure", zap.String("agent", id))
		}
		m.logger.Error("Agent session handshake failed",
			zap.String("agent", id), zap.Error(err))
		return nil, nil, &registry.ProcessSpawnError{ID: id, Err: err}
	}

	m.mu.Lock()
	m.session[id] = sess
	m.mu.Unlock()

	now := time.Now().UTC()
	rec, err = m.store.UpdateAgent(id, func(a *registry.ToolAgentRecord) {
		a.Status = registry.StatusRunning
		a.PID = sess.PID()
		a.Tools = tools
		a.LastHealthCheck = &now
	})
	if err != nil {
		return nil, nil, err
	}

	m.logger.Info("Agent session established",
		zap.String("agent", id),
		zap.Int("pid", rec.PID),
		zap.Int("tools", len(rec.Tools)))
	return sess, rec, nil
}

func (m *Manager) handshake(ctx context.Context, sess mcpSession) ([]registry.ToolDescriptor, error) {
	if err := sess.Initialize(ctx); err != nil {
		return nil, err
	}
	return sess.ListTools(ctx)
}

// Invoke calls one tool on the agent, starting a session first if needed.
// Handshake and transport failures come back as a failed result, not an
// error; only an unknown agent id is reported as an error.
func (m *Manager) Invoke(ctx context.Context, id, toolName string, args map[string]interface{}) (*contracts.InvocationResult, error) {
	sess, _, err := m.ensureSession(ctx, id)
	if err != nil {
		if registry.IsNotFound(err) {
			return nil, err
		}
		return &contracts.InvocationResult{Success: false, Error: err.Error()}, nil
	}

	result, err := sess.CallTool(ctx, toolName, args)
	if err != nil {
		m.invalidate(id, sess)
		m.logger.Warn("Tool call failed at transport level, session invalidated",
			zap.String("agent", id),
			zap.String("tool", toolName),
			zap.Error(err))
		transportErr := &registry.TransportError{Err: err}
		return &contracts.InvocationResult{Success: false, Error: transportErr.Error()}, nil
	}

	return &contracts.InvocationResult{
		Success: true,
		Content: flattenContent(result),
		IsError: result.IsError,
	}, nil
}

// invalidate drops a broken session so the next call re-establishes it.
func (m *Manager) invalidate(id string, sess mcpSession) {
	m.mu.Lock()
	if current, ok := m.session[id]; ok && current == sess {
		delete(m.session, id)
	}
	m.mu.Unlock()
	sess.Close()

	if _, err := m.store.UpdateAgent(id, func(a *registry.ToolAgentRecord) {
		a.Status = registry.StatusError
		a.PID = 0
	}); err != nil {
		m.logger.Debug("Agent removed before session invalidation", zap.String("agent", id))
	}
}

// Stop closes the agent's session if one is live. Stopping an agent with no
// session only normalizes its status.
func (m *Manager) Stop(ctx context.Context, id string) (*registry.ToolAgentRecord, error) {
	lock := m.locks.Lock(id)
	defer lock.Unlock()

	rec, err := m.store.GetAgent(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	sess, ok := m.session[id]
	delete(m.session, id)
	m.mu.Unlock()
	if ok {
		sess.Close()
	}

	if rec.Status != registry.StatusStopped {
		rec, err = m.store.UpdateAgent(id, func(a *registry.ToolAgentRecord) {
			a.Status = registry.StatusStopped
			a.PID = 0
		})
		if err != nil {
			return nil, err
		}
		m.logger.Info("Stopped agent", zap.String("agent", id))
	}
	return rec, nil
}

// Delete stops the agent and removes its record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.Stop(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeleteAgent(id); err != nil {
		return err
	}
	m.locks.Forget(id)
	return nil
}

// CloseAll tears down every live session; used during shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make(map[string]mcpSession, len(m.session))
	for id, sess := range m.session {
		sessions[id] = sess
	}
	m.session = make(map[string]mcpSession)
	m.mu.Unlock()

	for id, sess := range sessions {
		sess.Close()
		if _, err := m.store.UpdateAgent(id, func(a *registry.ToolAgentRecord) {
			a.Status = registry.StatusStopped
			a.PID = 0
		}); err != nil {
			m.logger.Debug("Agent removed before shutdown", zap.String("agent", id))
		}
	}
}

// flattenContent renders the content parts of a tool result, one entry per
// part. Text parts pass through; any other part type is rendered as JSON so
// nothing the tool returned is dropped.
func flattenContent(result *mcp.CallToolResult) []string {
	parts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
			continue
		}
		encoded, err := json.Marshal(content)
		if err != nil {
			parts = append(parts, fmt.Sprintf("%v", content))
			continue
		}
		parts = append(parts, string(encoded))
	}
	return parts
}
