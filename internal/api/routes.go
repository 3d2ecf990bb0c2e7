// Package api provides HTTP handlers and routing for the repurposing service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/auth"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	auth     *auth.Middleware
	limiter  *RateLimiter
}

// Option customizes a Server.
type Option func(*Server)

// WithAuth guards the API with bearer token authentication.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) { s.auth = m }
}

// WithRateLimiter applies per-client rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers, opts ...Option) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Workflows
	api.HandleFunc("/workflows", s.handlers.SubmitWorkflow).Methods("POST")
	api.HandleFunc("/workflows", s.handlers.ListWorkflows).Methods("GET")
	api.HandleFunc("/workflows/{id}", s.handlers.GetWorkflow).Methods("GET")
	api.HandleFunc("/workflows/{id}/cancel", s.handlers.CancelWorkflow).Methods("POST")
	api.HandleFunc("/workflows/{id}/events", s.handlers.StreamEvents).Methods("GET")
	api.HandleFunc("/workflows/{id}/ws", s.handlers.StreamWebSocket).Methods("GET")
	api.HandleFunc("/workflows/{id}/logs", s.handlers.WorkflowLogs).Methods("GET")
	api.HandleFunc("/workflows/{id}/performance", s.handlers.AgentPerformance).Methods("GET")
	api.HandleFunc("/workflows/{id}/cost", s.handlers.CostReport).Methods("GET")
	api.HandleFunc("/workflows/{id}/artifacts", s.handlers.Artifacts).Methods("GET")

	// Saved flows
	api.HandleFunc("/flows", s.handlers.CreateFlow).Methods("POST")
	api.HandleFunc("/flows", s.handlers.ListFlows).Methods("GET")
	api.HandleFunc("/flows/{id}", s.handlers.GetFlow).Methods("GET")
	api.HandleFunc("/flows/{id}", s.handlers.UpdateFlow).Methods("PUT")
	api.HandleFunc("/flows/{id}", s.handlers.DeleteFlow).Methods("DELETE")

	// Catalog and diagnostics
	api.HandleFunc("/agents", s.handlers.ListAgents).Methods("GET")
	api.HandleFunc("/tools", s.handlers.ListTools).Methods("GET")
	api.HandleFunc("/system/health", s.handlers.SystemHealth).Methods("GET")
	api.HandleFunc("/runstore/info", s.handlers.RunStoreInfo).Methods("GET")

	// Preflight requests never match a route's methods.
	s.router.MethodNotAllowedHandler = s.handlers.CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
	}))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusNotFound, "no route for "+r.URL.Path, nil)
	})

	// Outermost first.
	s.router.Use(s.handlers.RecoveryMiddleware)
	s.router.Use(TracingMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.CORSMiddleware)
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware)
	}
	if s.auth != nil {
		s.router.Use(s.auth.Handler)
	}
}
