package agent

import (
	"context"
	"fmt"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Writer is a model-backed agent producing one content kind from its
// upstream payloads.
type Writer struct {
	name        string
	description string
	kind        types.ContentKind

	// requires lists upstream kinds that must be present.
	requires []types.ContentKind
	// uses lists upstream kinds included in the prompt when present.
	uses []types.ContentKind

	temperature float64

	// extra adds stage-specific context, e.g. keyword statistics.
	extra func(ctx context.Context, in *Input) string
}

// Info implements Describer.
func (w *Writer) Info() types.AgentInfo {
	return types.AgentInfo{Name: w.name, Description: w.description, Produces: w.kind, Tools: []string{tool.NameLLM}}
}

// Produce implements Agent.
func (w *Writer) Produce(ctx context.Context, in *Input) (*types.AgentResponse, error) {
	for _, k := range w.requires {
		if _, ok := in.Find(k); !ok {
			return nil, resilience.Errorf(types.ErrorKindValidation, "%s requires upstream %s content", w.name, k)
		}
	}
	in.think(types.ThoughtPlan, fmt.Sprintf("drafting %s from %d upstream results", w.kind, len(in.Upstream)), 0.8)

	user := briefing(in) + upstreamSections(in, w.uses...)
	if w.extra != nil {
		user += w.extra(ctx, in)
	}

	gen, err := generate(ctx, in.Tools, codecs[w.kind].task, systemPrompts[w.kind], user, w.temperature)
	if err != nil {
		return nil, err
	}
	content, err := DecodeContent(w.kind, gen.Text)
	if err != nil {
		in.think(types.ThoughtReflect, "model output did not match the expected structure", 0.2)
		return nil, err
	}

	confidence := types.ClampConfidence(gen.RawConfidence)
	in.think(types.ThoughtDecide, fmt.Sprintf("produced %s content", w.kind), confidence)
	return &types.AgentResponse{
		Success:    true,
		Content:    content,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("generated %s with %s/%s", w.kind, gen.Provider, gen.Model),
		Metadata: map[string]string{
			"provider": gen.Provider,
			"model":    gen.Model,
			"tokens":   fmt.Sprint(gen.TotalTokens),
		},
	}, nil
}

// generate runs one model call through the stage tools.
func generate(ctx context.Context, tools Tools, task, system, user string, temperature float64) (*llm.Generation, error) {
	if tools == nil {
		return nil, resilience.Errorf(types.ErrorKindAgentFailure, "no tools available")
	}
	resp := tools.Call(ctx, tool.NameLLM, map[string]any{
		"system":      system,
		"user":        user,
		"json":        true,
		"temperature": temperature,
		"task":        task,
	})
	if !resp.Success {
		return nil, resilience.ResponseError(resp)
	}
	gen, ok := resp.Result.(*llm.Generation)
	if !ok || gen == nil {
		return nil, resilience.Errorf(types.ErrorKindToolFailure, "unexpected llm result %T", resp.Result)
	}
	return gen, nil
}
