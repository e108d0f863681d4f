package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mcpbridge-go/internal/contracts"
	"mcpbridge-go/internal/registry"
)

// handleRoot returns service identity and aggregate stats.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "mcpbridge",
		"version": s.version,
		"stats":   s.buildStats(),
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.buildStats())
}

func (s *Server) buildStats() *contracts.StatsResponse {
	stats := &contracts.StatsResponse{
		Uptime: time.Since(s.startTime).Seconds(),
	}

	for _, svc := range s.store.ListServices() {
		stats.Services.Total++
		if svc.Status == registry.ServiceStatusOnline {
			stats.Services.Online++
		}
		stats.Services.Capabilities += len(svc.Capabilities)
	}
	for _, rec := range s.store.ListBridges() {
		stats.Bridges.Total++
		if rec.Status == registry.StatusRunning {
			stats.Bridges.Running++
		}
	}
	for _, rec := range s.store.ListAgents() {
		stats.Agents.Total++
		if rec.Status == registry.StatusRunning {
			stats.Agents.Running++
		}
		stats.Agents.Tools += len(rec.Tools)
	}

	if s.metrics != nil {
		s.metrics.SetUptime(s.startTime)
		s.metrics.SetRegistryStats(
			stats.Services.Total, stats.Services.Online,
			stats.Bridges.Total, stats.Bridges.Running,
			stats.Agents.Total, stats.Agents.Running)
	}
	return stats
}

// OpenAPI service handlers

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.store.ListServices())
}

func (s *Server) handleDiscoverServer(w http.ResponseWriter, r *http.Request) {
	var req contracts.DiscoverRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.BaseURL == "" {
		s.writeError(w, http.StatusBadRequest, "base_url is required")
		return
	}

	svc, err := s.discoverer.Discover(r.Context(), req.BaseURL)
	if err != nil {
		if registry.IsDiscoveryError(err) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.store.UpsertService(svc)
	s.logger.Info("Registered discovered service",
		zap.String("service", svc.ID),
		zap.String("base_url", svc.BaseURL))
	s.writeJSON(w, http.StatusCreated, contracts.NewSuccessResponse(svc))
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	svc, err := s.store.GetService(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, svc)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteService(chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, map[string]string{"deleted": chi.URLParam(r, "id")})
}

func (s *Server) handleGetServerCapabilities(w http.ResponseWriter, r *http.Request) {
	svc, err := s.store.GetService(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, svc.Capabilities)
}

func (s *Server) handleCallServer(w http.ResponseWriter, r *http.Request) {
	var req contracts.ServiceCallRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.OperationID == "" {
		s.writeError(w, http.StatusBadRequest, "operation_id is required")
		return
	}

	result, err := s.calls.CallService(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// Bridge handlers

func (s *Server) handleListBridges(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.store.ListBridges())
}

func (s *Server) handleCreateBridge(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateBridgeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.SpecURL == "" {
		s.writeError(w, http.StatusBadRequest, "openapi_url is required")
		return
	}

	rec, err := s.bridges.Create(r.Context(), &req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("start") == "true" {
		started, err := s.bridges.Start(r.Context(), rec.ID)
		if err != nil {
			// The bridge exists; the start failure shows up in its status.
			s.logger.Warn("Auto-start after create failed",
				zap.String("bridge", rec.ID), zap.Error(err))
			if got, getErr := s.store.GetBridge(rec.ID); getErr == nil {
				rec = got
			}
		} else {
			rec = started
		}
	}

	s.writeJSON(w, http.StatusCreated, contracts.NewSuccessResponse(rec))
}

func (s *Server) handleGetBridge(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetBridge(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, rec)
}

func (s *Server) handleDeleteBridge(w http.ResponseWriter, r *http.Request) {
	if err := s.bridges.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, map[string]string{"deleted": chi.URLParam(r, "id")})
}

func (s *Server) handleStartBridge(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bridges.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, rec)
}

func (s *Server) handleStopBridge(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bridges.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, rec)
}

// Tool agent handlers

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.store.ListAgents())
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req contracts.RegisterAgentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	rec, err := s.agents.Register(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, contracts.NewSuccessResponse(rec))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetAgent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, rec)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.agents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, map[string]string{"deleted": chi.URLParam(r, "id")})
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.agents.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, rec)
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.agents.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, rec)
}

func (s *Server) handleGetAgentTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.agents.Tools(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, tools)
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req contracts.ToolCallRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.ToolName == "" {
		s.writeError(w, http.StatusBadRequest, "agent_id and tool_name are required")
		return
	}

	result, err := s.calls.CallTool(r.Context(), &req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
