// Package httpapi exposes the registry over a REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mcpbridge-go/internal/contracts"
	"mcpbridge-go/internal/observability"
	"mcpbridge-go/internal/registry"
)

const requestTimeout = 60 * time.Second

// bridgeManager drives translation bridge lifecycle.
type bridgeManager interface {
	Create(ctx context.Context, req *contracts.CreateBridgeRequest) (*registry.TranslationRecord, error)
	Start(ctx context.Context, id string) (*registry.TranslationRecord, error)
	Stop(ctx context.Context, id string) (*registry.TranslationRecord, error)
	Delete(ctx context.Context, id string) error
}

// agentManager drives tool agent lifecycle.
type agentManager interface {
	Register(req *contracts.RegisterAgentRequest) (*registry.ToolAgentRecord, error)
	Start(ctx context.Context, id string) (*registry.ToolAgentRecord, error)
	Stop(ctx context.Context, id string) (*registry.ToolAgentRecord, error)
	Delete(ctx context.Context, id string) error
	Tools(ctx context.Context, id string) ([]registry.ToolDescriptor, error)
}

// callRouter dispatches invocations in both directions.
type callRouter interface {
	CallService(ctx context.Context, serviceID string, req *contracts.ServiceCallRequest) (*contracts.InvocationResult, error)
	CallTool(ctx context.Context, req *contracts.ToolCallRequest) (*contracts.InvocationResult, error)
}

// serviceDiscoverer probes a base URL for an OpenAPI description.
type serviceDiscoverer interface {
	Discover(ctx context.Context, baseURL string) (*registry.ServiceRecord, error)
}

// Server is the HTTP API server.
type Server struct {
	store      *registry.Store
	bridges    bridgeManager
	agents     agentManager
	calls      callRouter
	discoverer serviceDiscoverer
	metrics    *observability.MetricsManager
	apiKey     string
	version    string
	startTime  time.Time
	logger     *zap.Logger
	router     *chi.Mux
}

// NewServer creates the HTTP API server and wires its routes.
func NewServer(store *registry.Store, bridges bridgeManager, agents agentManager, calls callRouter, discoverer serviceDiscoverer, metrics *observability.MetricsManager, apiKey, version string, logger *zap.Logger) *Server {
	s := &Server{
		store:      store,
		bridges:    bridges,
		agents:     agents,
		calls:      calls,
		discoverer: discoverer,
		metrics:    metrics,
		apiKey:     apiKey,
		version:    version,
		startTime:  time.Now(),
		logger:     logger.Named("httpapi"),
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware())
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	// CORS headers for browser access
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	s.router.Get("/", s.handleRoot)
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ready":true}`))
	})
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		if s.apiKey != "" {
			r.Use(s.apiKeyMiddleware())
		}

		r.Get("/stats", s.handleGetStats)

		r.Get("/servers", s.handleListServers)
		r.Post("/servers/discover", s.handleDiscoverServer)
		r.Route("/servers/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetServer)
			r.Delete("/", s.handleDeleteServer)
			r.Get("/capabilities", s.handleGetServerCapabilities)
			r.Post("/call", s.handleCallServer)
		})

		r.Get("/bridges", s.handleListBridges)
		r.Post("/bridges", s.handleCreateBridge)
		r.Route("/bridges/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetBridge)
			r.Delete("/", s.handleDeleteBridge)
			r.Post("/start", s.handleStartBridge)
			r.Post("/stop", s.handleStopBridge)
		})

		r.Get("/agents", s.handleListAgents)
		r.Post("/agents", s.handleRegisterAgent)
		r.Route("/agents/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAgent)
			r.Delete("/", s.handleDeleteAgent)
			r.Post("/start", s.handleStartAgent)
			r.Post("/stop", s.handleStopAgent)
			r.Get("/tools", s.handleGetAgentTools)
		})

		r.Post("/tools/call", s.handleCallTool)
	})
}

// apiKeyMiddleware rejects API requests without the configured key.
func (s *Server) apiKeyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.validateAPIKey(r) {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) validateAPIKey(r *http.Request) bool {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key == s.apiKey
	}
	if key := r.URL.Query().Get("apikey"); key != "" {
		return key == s.apiKey
	}
	return false
}

// JSON response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, contracts.NewErrorResponse(message))
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, contracts.NewSuccessResponse(data))
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case registry.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case registry.IsConflict(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case registry.IsDiscoveryError(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
