package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/agent"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func noop() agent.Agent {
	return agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		return &types.AgentResponse{Success: true}, nil
	})
}

func TestRegistry_Register(t *testing.T) {
	reg := New()

	t.Run("registers agent", func(t *testing.T) {
		if err := reg.Register("echo", noop()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if !reg.Exists("echo") {
			t.Error("echo should exist")
		}
		if _, err := reg.Get("echo"); err != nil {
			t.Errorf("Get failed: %v", err)
		}
	})

	t.Run("returns error for duplicate name", func(t *testing.T) {
		err := reg.Register("echo", noop())
		if !errors.Is(err, ErrAgentExists) {
			t.Errorf("expected ErrAgentExists, got %v", err)
		}
	})

	t.Run("validates input", func(t *testing.T) {
		if err := reg.Register("", noop()); err == nil {
			t.Error("expected error for empty name")
		}
		if err := reg.Register("nil", nil); err == nil {
			t.Error("expected error for nil agent")
		}
	})

	t.Run("unknown agent", func(t *testing.T) {
		if _, err := reg.Get("missing"); !errors.Is(err, ErrAgentNotFound) {
			t.Errorf("expected ErrAgentNotFound, got %v", err)
		}
		if err := reg.Unregister("missing"); !errors.Is(err, ErrAgentNotFound) {
			t.Errorf("expected ErrAgentNotFound, got %v", err)
		}
	})
}

func TestRegistry_Builtins(t *testing.T) {
	reg := NewWithBuiltins()

	all := reg.List(nil)
	if len(all) != 9 {
		t.Fatalf("expected 9 built-in agents, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("list not sorted: %s before %s", all[i-1].Name, all[i].Name)
		}
	}

	tests := []struct {
		name string
		opts *ListOptions
		want int
	}{
		{"by output kind", &ListOptions{Produces: types.KindBlog}, 1},
		{"by tool", &ListOptions{Tools: []string{tool.NameTranscribe}}, 1},
		{"by llm tool", &ListOptions{Tools: []string{tool.NameLLM}}, 7},
		{"no match", &ListOptions{Tools: []string{"nope"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.List(tt.opts); len(got) != tt.want {
				t.Errorf("got %d agents, want %d", len(got), tt.want)
			}
		})
	}
}
