// Package agent implements the content stages of the repurposing flow.
// Each agent turns its upstream results into one typed artifact, reaching
// external capabilities only through the Tools handed to it.
package agent

import (
	"context"
	"sort"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Tools is the stage-scoped view of the tool invoker. Calls are already
// wrapped with retries, breakers and usage accounting.
type Tools interface {
	Call(ctx context.Context, tool string, params map[string]any) *types.ToolResponse
	Think(kind types.ThoughtKind, content string, confidence float64)
}

// Input is everything an agent sees for one stage execution.
type Input struct {
	WorkflowID string
	Stage      string
	Request    types.WorkflowInput

	// Upstream holds committed results of the stage's dependencies.
	Upstream map[string]*types.StageResult

	Tools Tools
}

// Agent produces one stage result.
type Agent interface {
	Produce(ctx context.Context, in *Input) (*types.AgentResponse, error)
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, in *Input) (*types.AgentResponse, error)

// Produce implements Agent.
func (f Func) Produce(ctx context.Context, in *Input) (*types.AgentResponse, error) {
	return f(ctx, in)
}

// Describer is implemented by agents that can describe themselves.
type Describer interface {
	Info() types.AgentInfo
}

// Find returns the first successful upstream content of kind, scanning
// stages in name order.
func (in *Input) Find(kind types.ContentKind) (types.Content, bool) {
	names := make([]string, 0, len(in.Upstream))
	for name := range in.Upstream {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := in.Upstream[name]
		if r != nil && r.Success && r.Content.Kind == kind {
			return r.Content, true
		}
	}
	return types.Content{}, false
}

// think records a thought when tools are available.
func (in *Input) think(kind types.ThoughtKind, content string, confidence float64) {
	if in.Tools != nil {
		in.Tools.Think(kind, content, confidence)
	}
}
