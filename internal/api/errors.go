package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/export"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/flowstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/orchestrator"
)

// Error codes returned in ErrorResponse.Error.
const (
	ErrCodeAuthRequired   = "auth_required"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotFound       = "not_found"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeValidation     = "validation_error"
	ErrCodeConflict       = "conflict"
	ErrCodeMethod         = "method_not_allowed"
	ErrCodeInternalError  = "internal_error"
	ErrCodeServiceUnavail = "service_unavailable"

	ErrCodeWorkflowNotFound = "workflow_not_found"
	ErrCodeWorkflowFinished = "workflow_finished"
	ErrCodeUnknownFlow      = "unknown_flow"
	ErrCodeInvalidGraph     = "invalid_graph"
	ErrCodeShuttingDown     = "shutting_down"
	ErrCodeFlowNotFound     = "flow_not_found"
	ErrCodeFlowExists       = "flow_exists"
	ErrCodeInvalidFlow      = "invalid_flow"
	ErrCodeNotExported      = "not_exported"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// domainError binds a sentinel error from the service packages to its
// HTTP representation.
type domainError struct {
	target  error
	status  int
	code    string
	message string
}

// domainErrors is matched in order with errors.Is.
var domainErrors = []domainError{
	{orchestrator.ErrWorkflowNotFound, http.StatusNotFound, ErrCodeWorkflowNotFound, "workflow not found"},
	{orchestrator.ErrAlreadyFinished, http.StatusConflict, ErrCodeWorkflowFinished, "workflow already finished"},
	{orchestrator.ErrUnknownFlow, http.StatusNotFound, ErrCodeUnknownFlow, "unknown flow"},
	{orchestrator.ErrInvalidGraph, http.StatusUnprocessableEntity, ErrCodeInvalidGraph, "invalid stage graph"},
	{orchestrator.ErrShuttingDown, http.StatusServiceUnavailable, ErrCodeShuttingDown, "orchestrator is shutting down"},
	{flowstore.ErrFlowNotFound, http.StatusNotFound, ErrCodeFlowNotFound, "flow not found"},
	{flowstore.ErrFlowExists, http.StatusConflict, ErrCodeFlowExists, "flow already exists"},
	{flowstore.ErrInvalidFlow, http.StatusBadRequest, ErrCodeInvalidFlow, "invalid flow"},
	{export.ErrNotExported, http.StatusNotFound, ErrCodeNotExported, "workflow has no exported artifacts"},
}

// classify finds the domain mapping for err.
func classify(err error) (domainError, bool) {
	if err == nil {
		return domainError{}, false
	}
	for _, d := range domainErrors {
		if errors.Is(err, d.target) {
			return d, true
		}
	}
	return domainError{}, false
}

// errorDetails adds structured fields for errors that carry them.
func errorDetails(err error) map[string]any {
	if err == nil {
		return nil
	}
	details := map[string]any{"cause": err.Error()}
	var gerr *orchestrator.InvalidGraphError
	if errors.As(err, &gerr) {
		details["problem"] = gerr.Problem
		if gerr.Stage != "" {
			details["stage"] = gerr.Stage
		}
	}
	return details
}

type requestIDContextKey struct{}

// RequestIDKey is the context key under which the logging middleware
// stores the request ID.
var RequestIDKey = requestIDContextKey{}

// GetRequestID returns the request ID from ctx, falling back to the
// X-Request-ID header.
func GetRequestID(ctx context.Context, r *http.Request) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func statusCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return ErrCodeAuthRequired
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		return ErrCodeMethod
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusUnprocessableEntity:
		return ErrCodeValidation
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavail
	default:
		return ErrCodeInternalError
	}
}

// writeErrorResponse writes an ErrorResponse whose code follows the status.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, message string, details map[string]any) {
	writeError(w, r, status, statusCode(status), message, details)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	requestID := GetRequestID(r.Context(), r)
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	})
}
