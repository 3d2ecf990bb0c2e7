package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/export"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/flowstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/observability"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/orchestrator"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/registry"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/validator"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators the handlers serve. Flows and Exporter are
// optional; their endpoints answer 503 when unset.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Store        runstore.Store
	Tools        *tool.Invoker
	Validator    *validator.Validator
	Flows        flowstore.FlowStore
	Exporter     *export.Exporter
	CORSOrigins  []string
	Logger       *slog.Logger
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	orch        *orchestrator.Orchestrator
	store       runstore.Store
	tools       *tool.Invoker
	validator   *validator.Validator
	flows       flowstore.FlowStore
	exporter    *export.Exporter
	corsOrigins []string
	logger      *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		orch:        deps.Orchestrator,
		store:       deps.Store,
		tools:       deps.Tools,
		validator:   deps.Validator,
		flows:       deps.Flows,
		exporter:    deps.Exporter,
		corsOrigins: deps.CORSOrigins,
		logger:      logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking the store.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.AdapterInfo(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "runstore unhealthy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"runstore": info,
	})
}

// SystemHealth handles GET /api/v1/system/health with breaker states.
func (h *Handlers) SystemHealth(w http.ResponseWriter, r *http.Request) {
	health := h.orch.Health()
	status := "healthy"
	switch {
	case health.Open > 0:
		status = "degraded"
	case health.HalfOpen > 0:
		status = "recovering"
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"breakers": health,
	})
}

// --- Workflows ---

// SubmitRequest is the body of POST /api/v1/workflows. Graph takes an
// inline stage graph; Flow names a saved or built-in one.
type SubmitRequest struct {
	types.WorkflowInput
	Flow  string            `json:"flow,omitempty"`
	Graph *types.StageGraph `json:"graph,omitempty"`
}

// SubmitResponse is returned once a workflow is accepted.
type SubmitResponse struct {
	WorkflowID string               `json:"workflow_id"`
	Status     types.WorkflowStatus `json:"status"`
	Flow       string               `json:"flow"`
	StatusURL  string               `json:"status_url"`
	EventsURL  string               `json:"events_url"`
}

// SubmitWorkflow handles POST /api/v1/workflows.
func (h *Handlers) SubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	if res := h.validator.ValidateSubmitJSON(body); !res.Valid {
		h.respondValidation(w, r, res)
		return
	}
	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if res := h.validator.ValidateStruct(&req.WorkflowInput); !res.Valid {
		h.respondValidation(w, r, res)
		return
	}

	var graph types.StageGraph
	if req.Graph != nil {
		graph = *req.Graph
		if graph.Name == "" {
			graph.Name = "inline"
		}
	} else {
		flow := req.Flow
		if flow == "" {
			flow = orchestrator.ContentRepurposingFlow
		}
		graph, err = h.orch.Graph(r.Context(), flow)
		if err != nil {
			h.respondDomainError(w, r, "failed to resolve flow", err)
			return
		}
	}

	id, err := h.orch.Submit(r.Context(), req.WorkflowInput, graph)
	if err != nil {
		h.respondDomainError(w, r, "failed to submit workflow", err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, SubmitResponse{
		WorkflowID: id,
		Status:     types.WorkflowStatusPending,
		Flow:       graph.Name,
		StatusURL:  "/api/v1/workflows/" + id,
		EventsURL:  "/api/v1/workflows/" + id + "/events",
	})
}

// ListWorkflows handles GET /api/v1/workflows?status=&limit=.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	opts := &runstore.ListOptions{}
	if s := r.URL.Query().Get("status"); s != "" {
		status := types.WorkflowStatus(strings.ToUpper(s))
		switch status {
		case types.WorkflowStatusPending, types.WorkflowStatusRunning, types.WorkflowStatusCompleted,
			types.WorkflowStatusFailed, types.WorkflowStatusPartial:
			opts.Status = status
		default:
			writeErrorResponse(w, r, http.StatusBadRequest, "unknown status "+s, nil)
			return
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeErrorResponse(w, r, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		opts.Limit = n
	}

	summaries, err := h.orch.List(r.Context(), opts)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list workflows", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"workflows": summaries})
}

// GetWorkflow handles GET /api/v1/workflows/{id}.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	st, ok := h.loadWorkflow(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, st)
}

// CancelWorkflow handles POST /api/v1/workflows/{id}/cancel.
func (h *Handlers) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.orch.Cancel(r.Context(), id); err != nil {
		h.respondDomainError(w, r, "failed to cancel workflow", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id, "status": "cancelling"})
}

// WorkflowLogs handles GET /api/v1/workflows/{id}/logs?type=&stage=&agent=&since=.
func (h *Handlers) WorkflowLogs(w http.ResponseWriter, r *http.Request) {
	st, ok := h.loadWorkflow(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := &observability.Filter{
		Stage: q.Get("stage"),
		Agent: q.Get("agent"),
		Since: q.Get("since"),
	}
	if t := q.Get("type"); t != "" {
		for _, part := range strings.Split(t, ",") {
			filter.Types = append(filter.Types, types.EventType(strings.TrimSpace(part)))
		}
	}

	entries, err := h.orch.Events().Entries(r.Context(), st.WorkflowID, filter)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to read logs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"workflow_id": st.WorkflowID, "entries": entries})
}

// AgentPerformance handles GET /api/v1/workflows/{id}/performance.
func (h *Handlers) AgentPerformance(w http.ResponseWriter, r *http.Request) {
	st, ok := h.loadWorkflow(w, r)
	if !ok {
		return
	}
	stats, err := h.orch.Events().AgentPerformance(r.Context(), st.WorkflowID)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to compute agent performance", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"workflow_id": st.WorkflowID, "agents": stats})
}

// CostReport handles GET /api/v1/workflows/{id}/cost.
func (h *Handlers) CostReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := h.orch.CostReport(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// Artifacts handles GET /api/v1/workflows/{id}/artifacts.
func (h *Handlers) Artifacts(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "artifact export is not configured", nil)
		return
	}
	st, ok := h.loadWorkflow(w, r)
	if !ok {
		return
	}
	links, err := h.exporter.Links(r.Context(), st.WorkflowID)
	if err != nil {
		h.respondDomainError(w, r, "failed to list artifacts", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"workflow_id": st.WorkflowID, "artifacts": links})
}

// --- Agents and tools ---

// ListAgents handles GET /api/v1/agents?produces=&tool=.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	opts := &registry.ListOptions{Produces: types.ContentKind(r.URL.Query().Get("produces"))}
	if t := r.URL.Query().Get("tool"); t != "" {
		opts.Tools = strings.Split(t, ",")
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"agents": h.orch.Registry().List(opts)})
}

// ListTools handles GET /api/v1/tools.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{"tools": h.tools.List()})
}

// RunStoreInfo handles GET /api/v1/runstore/info.
func (h *Handlers) RunStoreInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.AdapterInfo(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to get runstore info", err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

// --- Helper Methods ---

func (h *Handlers) loadWorkflow(w http.ResponseWriter, r *http.Request) (*types.PipelineState, bool) {
	st, err := h.orch.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondLookupError(w, r, err)
		return nil, false
	}
	return st, true
}

func (h *Handlers) respondLookupError(w http.ResponseWriter, r *http.Request, err error) {
	h.respondDomainError(w, r, "failed to load workflow", err)
}

// respondDomainError answers with the mapping for a known sentinel error,
// else 500 with fallback as the message.
func (h *Handlers) respondDomainError(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	if d, ok := classify(err); ok {
		h.respondError(w, r, d.status, d.message, err)
		return
	}
	h.respondError(w, r, http.StatusInternalServerError, fallback, err)
}

func (h *Handlers) respondValidation(w http.ResponseWriter, r *http.Request, res *validator.ValidationResult) {
	writeErrorResponse(w, r, http.StatusBadRequest, "request failed validation", map[string]any{
		"errors": res.Errors,
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	attrs := []any{slog.Int("status", status), slog.String("request_id", GetRequestID(r.Context(), r))}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, attrs...)
	} else {
		h.logger.Debug(message, attrs...)
	}

	code := statusCode(status)
	if d, ok := classify(err); ok && d.status == status {
		code = d.code
	}
	writeError(w, r, status, code, message, errorDetails(err))
}
