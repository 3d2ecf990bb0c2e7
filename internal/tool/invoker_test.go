package tool

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/accounting"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/transcribe"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func newTestInvoker(t *testing.T, defs ...Definition) *Invoker {
	t.Helper()
	inv := NewInvoker(nil)
	for _, d := range defs {
		if err := inv.Register(d); err != nil {
			t.Fatalf("Register(%s): %v", d.Name, err)
		}
	}
	return inv
}

func TestInvoke_Validation(t *testing.T) {
	inv := newTestInvoker(t,
		LLM(llm.NewMockClient(), accounting.DefaultPricing(), time.Second),
		Transcribe(&transcribe.StaticExtractor{Text: "hi"}, time.Second),
	)

	tests := []struct {
		name string
		req  *types.ToolRequest
	}{
		{"unknown tool", &types.ToolRequest{ToolName: "nope", RequestID: "r1", AgentName: "blog_writer"}},
		{"missing required", &types.ToolRequest{ToolName: NameLLM, RequestID: "r2", AgentName: "blog_writer", Parameters: map[string]any{"system": "s"}}},
		{"wrong type", &types.ToolRequest{ToolName: NameLLM, RequestID: "r3", AgentName: "blog_writer", Parameters: map[string]any{"user": 42}}},
		{"not permitted", &types.ToolRequest{ToolName: NameTranscribe, RequestID: "r4", AgentName: "blog_writer", Parameters: map[string]any{"video_ref": "v"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := inv.Invoke(context.Background(), tt.req)
			if resp.Success {
				t.Fatal("expected failure")
			}
			if resp.ErrorKind != types.ErrorKindValidation {
				t.Errorf("kind = %s, want VALIDATION_ERROR (%s)", resp.ErrorKind, resp.ErrorMessage)
			}
			if resp.RequestID != tt.req.RequestID {
				t.Errorf("request_id = %q, want %q", resp.RequestID, tt.req.RequestID)
			}
		})
	}
}

func TestInvoke_LLMUsage(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responder = func(ctx context.Context, p *llm.Prompt) (*llm.Generation, error) {
		return &llm.Generation{Text: "ok", TotalTokens: 1000, Provider: "gemini"}, nil
	}
	inv := newTestInvoker(t, LLM(mock, accounting.DefaultPricing(), time.Second))

	resp := inv.Invoke(context.Background(), &types.ToolRequest{
		ToolName:   NameLLM,
		RequestID:  "r1",
		AgentName:  "blog_writer",
		Parameters: map[string]any{"user": "write", "task": llm.TaskBlog, "temperature": 0.3},
	})
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	gen, ok := resp.Result.(*llm.Generation)
	if !ok || gen.Text != "ok" {
		t.Fatalf("result = %#v", resp.Result)
	}
	if !resp.Usage.Billable || resp.Usage.Tokens != 1000 || math.Abs(resp.Usage.Cost-0.002) > 1e-12 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if got := mock.Calls()[0]; got.Task != llm.TaskBlog || got.User != "write" {
		t.Errorf("prompt = %+v", got)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	inv := newTestInvoker(t, Transcribe(&transcribe.StaticExtractor{Text: "hi", Delay: time.Second}, 20*time.Millisecond))

	resp := inv.Invoke(context.Background(), &types.ToolRequest{
		ToolName: NameTranscribe, RequestID: "r1", AgentName: "transcriber",
		Parameters: map[string]any{"video_ref": "v"},
	})
	if resp.Success || resp.ErrorKind != types.ErrorKindTimeout {
		t.Errorf("resp = %+v, want TIMEOUT", resp)
	}
}

func TestInvoke_HandlerErrorsClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{"network", errors.New("connection refused"), types.ErrorKindNetwork},
		{"opaque", errors.New("boom"), types.ErrorKindToolFailure},
		{"status", &llm.StatusError{Code: 429}, types.ErrorKindRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newTestInvoker(t, Definition{
				Name: "x",
				Handler: func(ctx context.Context, params map[string]any) (*Result, error) {
					return nil, tt.err
				},
			})
			resp := inv.Invoke(context.Background(), &types.ToolRequest{ToolName: "x", AgentName: "any"})
			if resp.ErrorKind != tt.want {
				t.Errorf("kind = %s, want %s", resp.ErrorKind, tt.want)
			}
		})
	}
}

func TestInvoke_PanicRecovered(t *testing.T) {
	inv := newTestInvoker(t, Definition{
		Name: "boom",
		Handler: func(ctx context.Context, params map[string]any) (*Result, error) {
			panic("kaboom")
		},
	})
	resp := inv.Invoke(context.Background(), &types.ToolRequest{ToolName: "boom", AgentName: "a"})
	if resp.Success || resp.ErrorKind != types.ErrorKindToolFailure {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	inv := newTestInvoker(t, Keywords())
	if err := inv.Register(Keywords()); !errors.Is(err, ErrToolExists) {
		t.Errorf("err = %v, want ErrToolExists", err)
	}
	if dep, ok := inv.Dependency(NameKeywords); !ok || dep != DependencyLocal {
		t.Errorf("dependency = %q", dep)
	}
	if list := inv.List(); len(list) != 1 || list[0].Timeout != 5*time.Second {
		t.Errorf("list = %+v", list)
	}
}

func TestExtractKeywords(t *testing.T) {
	res := ExtractKeywords("The planner, the PLANNER and the calendar. Planner wins.", 2, []string{"planner", "budget"})
	if len(res.Top) != 2 || res.Top[0].Term != "planner" || res.Top[0].Count != 3 {
		t.Errorf("top = %+v", res.Top)
	}
	if res.Coverage["planner"] != 3 || res.Coverage["budget"] != 0 {
		t.Errorf("coverage = %v", res.Coverage)
	}
}
