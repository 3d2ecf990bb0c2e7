package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/auth"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/flowstore"
)

func (h *Handlers) flowsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.flows == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "flow storage is not configured", nil)
		return false
	}
	return true
}

// CreateFlow handles POST /api/v1/flows.
func (h *Handlers) CreateFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsEnabled(w, r) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	if res := h.validator.ValidateFlowJSON(body); !res.Valid {
		h.respondValidation(w, r, res)
		return
	}
	var req flowstore.CreateFlowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if sub := auth.Subject(r.Context()); sub != "" {
		req.CreatedBy = sub
	}

	flow, err := h.flows.Create(r.Context(), &req)
	if err != nil {
		h.respondFlowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/flows/"+flow.ID)
	h.respondJSON(w, http.StatusCreated, flow)
}

// ListFlows handles GET /api/v1/flows?limit=&offset=&created_by=.
func (h *Handlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	if !h.flowsEnabled(w, r) {
		return
	}
	q := r.URL.Query()
	opts := &flowstore.ListOptions{CreatedBy: q.Get("created_by")}
	for key, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErrorResponse(w, r, http.StatusBadRequest, key+" must be a non-negative integer", nil)
			return
		}
		*dst = n
	}

	flows, err := h.flows.List(r.Context(), opts)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list flows", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

// GetFlow handles GET /api/v1/flows/{id}.
func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsEnabled(w, r) {
		return
	}
	flow, err := h.flows.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondFlowError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, flow)
}

// UpdateFlow handles PUT /api/v1/flows/{id}.
func (h *Handlers) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsEnabled(w, r) {
		return
	}
	var req flowstore.UpdateFlowRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	flow, err := h.flows.Update(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		h.respondFlowError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, flow)
}

// DeleteFlow handles DELETE /api/v1/flows/{id}.
func (h *Handlers) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	if !h.flowsEnabled(w, r) {
		return
	}
	if err := h.flows.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondFlowError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) respondFlowError(w http.ResponseWriter, r *http.Request, err error) {
	h.respondDomainError(w, r, "flow storage error", err)
}
