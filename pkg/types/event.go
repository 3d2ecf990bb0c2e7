package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of event.
type EventType string

const (
	EventTypeWorkflowStatus EventType = "workflow_status"
	EventTypeStageStatus    EventType = "stage_status"
	EventTypeThought        EventType = "thought"
	EventTypeToolRequest    EventType = "tool_request"
	EventTypeToolResponse   EventType = "tool_response"
	EventTypeCritique       EventType = "critique"
	EventTypeProgress       EventType = "progress"
	EventTypeError          EventType = "error"
	EventTypeStreamEnd      EventType = "stream_end"
)

// StageStatus is the lifecycle of one stage within a run.
type StageStatus string

const (
	StageStatusPending   StageStatus = "PENDING"
	StageStatusRunning   StageStatus = "RUNNING"
	StageStatusSucceeded StageStatus = "SUCCEEDED"
	StageStatusFailed    StageStatus = "FAILED"
	StageStatusSkipped   StageStatus = "SKIPPED"
	StageStatusCancelled StageStatus = "CANCELLED"
)

// Event is one entry in a workflow's append-only observability stream.
type Event struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       EventType       `json:"type"`
	Stage      string          `json:"stage,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type  EventType `json:"type"`
	Stage string    `json:"stage,omitempty"`
	Agent string    `json:"agent,omitempty"`
	Data  any       `json:"data,omitempty"`
}

// WorkflowStatusEvent is the payload of workflow status changes.
type WorkflowStatusEvent struct {
	Status WorkflowStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// StageStatusEvent is the payload of stage transitions.
type StageStatusEvent struct {
	Status     StageStatus `json:"status"`
	Confidence float64     `json:"confidence,omitempty"`
	Duration   float64     `json:"duration,omitempty"`
	Retries    int         `json:"retries,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ThoughtEvent records one agent reasoning step.
type ThoughtEvent struct {
	Kind       ThoughtKind `json:"kind"`
	Content    string      `json:"content"`
	Confidence float64     `json:"confidence"`
}

// ToolRequestEvent records an outgoing tool call.
type ToolRequestEvent struct {
	Tool      string `json:"tool"`
	RequestID string `json:"request_id"`
	Attempt   int    `json:"attempt,omitempty"`
}

// ToolResponseEvent records a tool call's outcome.
type ToolResponseEvent struct {
	Tool          string    `json:"tool"`
	RequestID     string    `json:"request_id"`
	Success       bool      `json:"success"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
	ExecutionTime float64   `json:"execution_time"`
	Attempts      int       `json:"attempts"`
	Tokens        int       `json:"tokens,omitempty"`
}

// CritiqueEvent records one critique round.
type CritiqueEvent struct {
	Iteration int     `json:"iteration"`
	Score     float64 `json:"score"`
	Issues    int     `json:"issues"`
	Outcome   string  `json:"outcome,omitempty"`
}

// ProgressEvent reports stage completion progress.
type ProgressEvent struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// ErrorEvent mirrors an ErrorEntry appended to the state.
type ErrorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ToSSE formats the event for Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	return json.Unmarshal(e.Data, v)
}
