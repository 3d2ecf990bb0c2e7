// Package observability records the per-workflow event log: stage
// transitions, agent thoughts, tool calls, critique rounds and errors.
// Events go to the run store's stream, to slog and to the events counter.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Log appends events for workflows. Safe for concurrent use.
type Log struct {
	store  runstore.Store
	logger *slog.Logger
}

// New creates a Log writing to store.
func New(store runstore.Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, logger: logger}
}

// Emit appends one event. Store failures are logged and never returned;
// the event log must not fail a workflow.
func (l *Log) Emit(ctx context.Context, workflowID string, in *types.EventInput) *types.Event {
	metrics.EventsTotal.WithLabelValues(string(in.Type)).Inc()

	attrs := []any{
		slog.String("workflow_id", workflowID),
		slog.String("type", string(in.Type)),
	}
	if in.Stage != "" {
		attrs = append(attrs, slog.String("stage", in.Stage))
	}
	if in.Agent != "" {
		attrs = append(attrs, slog.String("agent", in.Agent))
	}
	l.logger.Debug("event", attrs...)

	evt, err := l.store.AppendEvent(ctx, workflowID, in)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, runstore.ErrStreamClosed) {
			level = slog.LevelDebug
		}
		l.logger.Log(ctx, level, "failed to append event", append(attrs, slog.Any("error", err))...)
		return nil
	}
	return evt
}

// WorkflowStatus records a workflow status change.
func (l *Log) WorkflowStatus(ctx context.Context, workflowID string, status types.WorkflowStatus, errMsg string) {
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeWorkflowStatus,
		Data: types.WorkflowStatusEvent{Status: status, Error: errMsg},
	})
}

// StageStatus records a stage transition.
func (l *Log) StageStatus(ctx context.Context, workflowID, stage, agent string, ev types.StageStatusEvent) {
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeStageStatus, Stage: stage, Agent: agent, Data: ev,
	})
}

// Thought records one agent reasoning step.
func (l *Log) Thought(ctx context.Context, workflowID, stage, agent string, kind types.ThoughtKind, content string, confidence float64) {
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeThought, Stage: stage, Agent: agent,
		Data: types.ThoughtEvent{Kind: kind, Content: content, Confidence: confidence},
	})
}

// ToolRequest records an outgoing tool call.
func (l *Log) ToolRequest(ctx context.Context, workflowID, stage, agent string, ev types.ToolRequestEvent) {
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeToolRequest, Stage: stage, Agent: agent, Data: ev,
	})
}

// ToolResponse records a tool call result.
func (l *Log) ToolResponse(ctx context.Context, workflowID, stage, agent string, ev types.ToolResponseEvent) {
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeToolResponse, Stage: stage, Agent: agent, Data: ev,
	})
}

// Critique records one critique round.
func (l *Log) Critique(ctx context.Context, workflowID, stage string, ev types.CritiqueEvent) {
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeCritique, Stage: stage, Data: ev,
	})
}

// Progress records workflow completion percentage.
func (l *Log) Progress(ctx context.Context, workflowID string, completed, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(completed) * 100 / float64(total)
	}
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeProgress,
		Data: types.ProgressEvent{Completed: completed, Total: total, Percent: pct},
	})
}

// Error records a workflow error entry.
func (l *Log) Error(ctx context.Context, workflowID string, entry types.ErrorEntry) {
	l.logger.Warn("workflow error",
		slog.String("workflow_id", workflowID),
		slog.String("stage", entry.Stage),
		slog.String("kind", string(entry.Kind)),
		slog.String("message", entry.Message),
	)
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeError, Stage: entry.Stage,
		Data: types.ErrorEvent{Kind: entry.Kind, Message: entry.Message},
	})
}

// End closes the workflow's stream.
func (l *Log) End(ctx context.Context, workflowID string, status types.WorkflowStatus) {
	l.Emit(ctx, workflowID, &types.EventInput{
		Type: types.EventTypeStreamEnd,
		Data: types.WorkflowStatusEvent{Status: status},
	})
}

// Filter selects log entries.
type Filter struct {
	Types []types.EventType
	Stage string
	Agent string
	// Since is an exclusive event ID.
	Since string
}

func (f *Filter) match(e *types.Event) bool {
	if f.Stage != "" && e.Stage != f.Stage {
		return false
	}
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// Entries returns the workflow's retained events matching f.
func (l *Log) Entries(ctx context.Context, workflowID string, f *Filter) ([]*types.Event, error) {
	if f == nil {
		f = &Filter{}
	}
	all, err := l.store.GetEventsSince(ctx, workflowID, f.Since)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Event, 0, len(all))
	for _, e := range all {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// AgentStats summarizes one agent's stage executions within a workflow.
type AgentStats struct {
	Agent          string  `json:"agent"`
	Runs           int     `json:"runs"`
	Succeeded      int     `json:"succeeded"`
	SuccessRate    float64 `json:"success_rate"`
	MeanDuration   float64 `json:"mean_duration"`
	MeanConfidence float64 `json:"mean_confidence"`
	ToolCalls      int     `json:"tool_calls"`
	Thoughts       int     `json:"thoughts"`
}

// AgentPerformance aggregates terminal stage events per agent.
func (l *Log) AgentPerformance(ctx context.Context, workflowID string) ([]AgentStats, error) {
	events, err := l.store.GetEventsSince(ctx, workflowID, "")
	if err != nil {
		return nil, err
	}

	type acc struct {
		AgentStats
		duration, confidence float64
	}
	byAgent := make(map[string]*acc)
	get := func(name string) *acc {
		a, ok := byAgent[name]
		if !ok {
			a = &acc{AgentStats: AgentStats{Agent: name}}
			byAgent[name] = a
		}
		return a
	}

	for _, e := range events {
		if e.Agent == "" {
			continue
		}
		switch e.Type {
		case types.EventTypeToolRequest:
			get(e.Agent).ToolCalls++
		case types.EventTypeThought:
			get(e.Agent).Thoughts++
		case types.EventTypeStageStatus:
			var ev types.StageStatusEvent
			if e.Decode(&ev) != nil {
				continue
			}
			if ev.Status != types.StageStatusSucceeded && ev.Status != types.StageStatusFailed {
				continue
			}
			a := get(e.Agent)
			a.Runs++
			a.duration += ev.Duration
			a.confidence += ev.Confidence
			if ev.Status == types.StageStatusSucceeded {
				a.Succeeded++
			}
		}
	}

	out := make([]AgentStats, 0, len(byAgent))
	for _, a := range byAgent {
		if a.Runs > 0 {
			n := float64(a.Runs)
			a.SuccessRate = float64(a.Succeeded) / n
			a.MeanDuration = a.duration / n
			a.MeanConfidence = a.confidence / n
		}
		out = append(out, a.AgentStats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out, nil
}
