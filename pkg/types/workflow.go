// Package types provides shared types for the repurposing orchestrator.
package types

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "PENDING"
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
	WorkflowStatusPartial   WorkflowStatus = "PARTIAL"
)

// IsTerminal reports whether the status is a final one.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusPartial
}

// ExecutionMode selects how ready stages are scheduled.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "SEQUENTIAL"
	ModeParallel   ExecutionMode = "PARALLEL"
	ModeAdaptive   ExecutionMode = "ADAPTIVE"
)

// WorkflowInput is the caller-supplied video reference and configuration.
type WorkflowInput struct {
	VideoRef         string        `json:"video_ref" validate:"required,max=2048"`
	BrandVoice       string        `json:"brand_voice,omitempty" validate:"max=256"`
	Keywords         []string      `json:"keywords,omitempty" validate:"max=50,dive,min=1,max=128"`
	EnableCritique   bool          `json:"enable_critique"`
	TrackCosts       bool          `json:"track_costs"`
	QualityThreshold float64       `json:"quality_threshold,omitempty" validate:"gte=0,lte=1"`
	MaxIterations    int           `json:"max_iterations,omitempty" validate:"gte=0,lte=10"`
	Mode             ExecutionMode `json:"mode,omitempty" validate:"omitempty,oneof=SEQUENTIAL PARALLEL ADAPTIVE"`
	Language         string        `json:"language,omitempty" validate:"omitempty,max=16"`

	// MaxConcurrentAgents caps this run's in-flight stages below the engine-wide gate (0 = gate only).
	MaxConcurrentAgents int `json:"max_concurrent_agents,omitempty" validate:"gte=0,lte=64"`
}

// StageSpec describes one node of the stage graph.
type StageSpec struct {
	Name      string   `json:"name"`
	Agent     string   `json:"agent"`
	DependsOn []string `json:"depends_on,omitempty"`

	// Priority and EstimatedCost feed the ADAPTIVE ranking expression.
	Priority      int     `json:"priority,omitempty"`
	EstimatedCost float64 `json:"estimated_cost,omitempty"`

	// TimeoutSeconds bounds the whole agent execution including retries (0 = engine default).
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`

	// Critique runs the critique loop over this stage's output when the input enables it.
	Critique bool `json:"critique,omitempty"`

	// AllowPartial lets an aggregation stage run once every dependency has resolved
	// and at least one of them succeeded.
	AllowPartial bool `json:"allow_partial,omitempty"`
}

// Timeout returns the stage timeout as a duration.
func (s *StageSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// StageGraph is a named DAG of stages.
type StageGraph struct {
	Name   string      `json:"name"`
	Stages []StageSpec `json:"stages"`

	// Terminal names the aggregation stage. Empty means the graph's single sink.
	Terminal string `json:"terminal,omitempty"`
}

// Stage returns the spec for a named stage.
func (g *StageGraph) Stage(name string) (*StageSpec, bool) {
	for i := range g.Stages {
		if g.Stages[i].Name == name {
			return &g.Stages[i], true
		}
	}
	return nil, false
}

// StageResult is the committed outcome of one stage.
type StageResult struct {
	AgentName     string          `json:"agent_name"`
	Success       bool            `json:"success"`
	Content       Content         `json:"content"`
	Confidence    float64         `json:"confidence"`
	ExecutionTime float64         `json:"execution_time"`
	RetryCount    int             `json:"retry_count"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Reasoning     string          `json:"reasoning,omitempty"`
	Suggestions   []string        `json:"suggestions,omitempty"`
	Critique      *CritiqueRecord `json:"critique,omitempty"`
}

// ErrorEntry is one append-only workflow error.
type ErrorEntry struct {
	Stage     string    `json:"stage"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PipelineState is the single record describing one workflow run.
type PipelineState struct {
	WorkflowID    string                  `json:"workflow_id"`
	Input         WorkflowInput           `json:"input"`
	Graph         StageGraph              `json:"graph"`
	StageResults  map[string]*StageResult `json:"stage_results"`
	StageOrder    []string                `json:"stage_order"`
	Status        WorkflowStatus          `json:"status"`
	Errors        []ErrorEntry            `json:"errors"`
	Metrics       UsageMetrics            `json:"metrics"`
	CurrentStage  string                  `json:"current_stage,omitempty"`
	RunningStages []string                `json:"running_stages,omitempty"`
	Progress      float64                 `json:"progress"`
	Cancelled     bool                    `json:"cancelled,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	StartedAt     *time.Time              `json:"started_at,omitempty"`
	FinishedAt    *time.Time              `json:"finished_at,omitempty"`
}

// Clone returns a copy that shares no mutable maps or slices with p.
// Content payloads are shared; they are never mutated after commit.
func (p *PipelineState) Clone() *PipelineState {
	if p == nil {
		return nil
	}
	c := *p
	c.Input.Keywords = append([]string(nil), p.Input.Keywords...)
	c.Graph.Stages = make([]StageSpec, len(p.Graph.Stages))
	for i, s := range p.Graph.Stages {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		c.Graph.Stages[i] = s
	}
	c.StageResults = make(map[string]*StageResult, len(p.StageResults))
	for k, v := range p.StageResults {
		r := *v
		r.Suggestions = append([]string(nil), v.Suggestions...)
		c.StageResults[k] = &r
	}
	c.StageOrder = append([]string(nil), p.StageOrder...)
	c.Errors = append([]ErrorEntry(nil), p.Errors...)
	c.RunningStages = append([]string(nil), p.RunningStages...)
	c.Metrics = p.Metrics.Clone()
	if p.StartedAt != nil {
		t := *p.StartedAt
		c.StartedAt = &t
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Summary is a lightweight listing view of a workflow.
type Summary struct {
	WorkflowID   string         `json:"workflow_id"`
	Status       WorkflowStatus `json:"status"`
	VideoRef     string         `json:"video_ref"`
	Flow         string         `json:"flow"`
	Progress     float64        `json:"progress"`
	CurrentStage string         `json:"current_stage,omitempty"`
	ErrorCount   int            `json:"error_count"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// Summarize builds the listing view of p.
func (p *PipelineState) Summarize() Summary {
	return Summary{
		WorkflowID:   p.WorkflowID,
		Status:       p.Status,
		VideoRef:     p.Input.VideoRef,
		Flow:         p.Graph.Name,
		Progress:     p.Progress,
		CurrentStage: p.CurrentStage,
		ErrorCount:   len(p.Errors),
		CreatedAt:    p.CreatedAt,
		FinishedAt:   p.FinishedAt,
	}
}
