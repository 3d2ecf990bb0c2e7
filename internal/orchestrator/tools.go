package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/accounting"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/observability"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// stageTools is the agent.Tools handed to one stage execution. Every call
// goes through the resilience wrapper under a single request id, so the
// accountant bills a retried call once.
type stageTools struct {
	workflowID string
	stage      string
	agent      string
	trackCosts bool

	invoker    *tool.Invoker
	wrapper    *resilience.Wrapper
	accountant *accounting.Accountant
	log        *observability.Log
	cancel     <-chan struct{}

	retries atomic.Int64
}

// Call implements agent.Tools.
func (t *stageTools) Call(ctx context.Context, name string, params map[string]any) *types.ToolResponse {
	req := &types.ToolRequest{
		ToolName:   name,
		Parameters: params,
		RequestID:  uuid.NewString(),
		AgentName:  t.agent,
	}
	dep, ok := t.invoker.Dependency(name)
	if !ok {
		dep = name
	}

	resp := t.wrapper.Call(ctx, resilience.Call{
		Dependency: dep,
		Agent:      t.agent,
		Request:    req,
		Cancel:     t.cancel,
	}, func(ctx context.Context, attempt int) *types.ToolResponse {
		t.log.ToolRequest(ctx, t.workflowID, t.stage, t.agent, types.ToolRequestEvent{
			Tool: name, RequestID: req.RequestID, Attempt: attempt,
		})
		return t.invoker.Invoke(ctx, req)
	})

	if resp.Attempts > 1 {
		t.retries.Add(int64(resp.Attempts - 1))
	}
	if resp.Success && resp.Usage.Billable {
		cost := resp.Usage.Cost
		if !t.trackCosts {
			cost = 0
		}
		t.accountant.Record(t.agent, req.RequestID, resp.Usage.Tokens, cost)
	}

	t.log.ToolResponse(ctx, t.workflowID, t.stage, t.agent, types.ToolResponseEvent{
		Tool:          name,
		RequestID:     req.RequestID,
		Success:       resp.Success,
		ErrorKind:     resp.ErrorKind,
		Error:         resp.ErrorMessage,
		ExecutionTime: resp.ExecutionTime,
		Attempts:      resp.Attempts,
		Tokens:        resp.Usage.Tokens,
	})
	return resp
}

// Think implements agent.Tools.
func (t *stageTools) Think(kind types.ThoughtKind, content string, confidence float64) {
	t.log.Thought(context.Background(), t.workflowID, t.stage, t.agent, kind, content, confidence)
}

// Retries is the number of extra attempts made across all calls.
func (t *stageTools) Retries() int { return int(t.retries.Load()) }
