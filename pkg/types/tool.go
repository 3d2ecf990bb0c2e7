package types

import "time"

// ErrorKind classifies failures across tools, stages and workflows.
type ErrorKind string

const (
	ErrorKindValidation      ErrorKind = "VALIDATION_ERROR"
	ErrorKindTimeout         ErrorKind = "TIMEOUT"
	ErrorKindNetwork         ErrorKind = "NETWORK_ERROR"
	ErrorKindRateLimit       ErrorKind = "RATE_LIMIT"
	ErrorKindCircuitOpen     ErrorKind = "CIRCUIT_OPEN"
	ErrorKindUpstreamSkipped ErrorKind = "UPSTREAM_SKIPPED"
	ErrorKindExhausted       ErrorKind = "EXHAUSTED_RETRIES"
	ErrorKindToolFailure     ErrorKind = "TOOL_FAILURE"
	ErrorKindAgentFailure    ErrorKind = "AGENT_FAILURE"
	ErrorKindCancelled       ErrorKind = "CANCELLED"
	ErrorKindUnknown         ErrorKind = "UNKNOWN"
)

// ToolRequest is one invocation of a named tool.
type ToolRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	RequestID  string         `json:"request_id"`
	Timeout    time.Duration  `json:"timeout,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	AgentName  string         `json:"agent_name"`
}

// ToolUsage is the billable usage reported by a tool call.
type ToolUsage struct {
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
	Billable bool    `json:"billable"`
}

// ToolResponse is the envelope every tool call resolves to.
type ToolResponse struct {
	Success       bool      `json:"success"`
	Result        any       `json:"result,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	ExecutionTime float64   `json:"execution_time"`
	ToolName      string    `json:"tool_name"`
	RequestID     string    `json:"request_id"`
	Usage         ToolUsage `json:"usage"`

	// Attempts counts invocations made by the resilience wrapper.
	Attempts int `json:"attempts,omitempty"`
	// Exhausted is set when retries ran out or the breaker refused the call.
	Exhausted bool `json:"exhausted,omitempty"`
	// Fallback carries the neutral agent response used in place of a result.
	Fallback *AgentResponse `json:"fallback,omitempty"`
}

// ToolInfo describes a registered tool for listing endpoints.
type ToolInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Dependency  string        `json:"dependency"`
	Permissions []string      `json:"permissions"`
	Timeout     time.Duration `json:"timeout"`
	Schema      string        `json:"schema,omitempty"`
}
