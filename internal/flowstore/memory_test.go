package flowstore

import (
	"context"
	"errors"
	"testing"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func twoStageGraph() types.StageGraph {
	return types.StageGraph{
		Stages: []types.StageSpec{
			{Name: "transcript", Agent: "transcriber"},
			{Name: "blog", Agent: "blog_writer", DependsOn: []string{"transcript"}},
		},
	}
}

func TestMemoryStore_Create(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("creates new flow", func(t *testing.T) {
		flow, err := store.Create(ctx, &CreateFlowRequest{ID: "blog_only", Description: "blog", Graph: twoStageGraph()})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if flow.Version != 1 {
			t.Errorf("Version = %d, want 1", flow.Version)
		}
		if flow.Graph.Name != "blog_only" {
			t.Errorf("graph name = %q, want the flow id", flow.Graph.Name)
		}
		if flow.CreatedAt.IsZero() || flow.UpdatedAt.IsZero() {
			t.Error("timestamps should be set")
		}
	})

	t.Run("returns error for duplicate ID", func(t *testing.T) {
		_, err := store.Create(ctx, &CreateFlowRequest{ID: "blog_only", Graph: twoStageGraph()})
		if !errors.Is(err, ErrFlowExists) {
			t.Errorf("err = %v, want ErrFlowExists", err)
		}
	})

	invalid := []struct {
		name string
		req  *CreateFlowRequest
	}{
		{"empty id", &CreateFlowRequest{Graph: twoStageGraph()}},
		{"bad id", &CreateFlowRequest{ID: "Has Spaces", Graph: twoStageGraph()}},
		{"no stages", &CreateFlowRequest{ID: "empty"}},
		{"stage without agent", &CreateFlowRequest{ID: "x", Graph: types.StageGraph{Stages: []types.StageSpec{{Name: "a"}}}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Create(ctx, tt.req); !errors.Is(err, ErrInvalidFlow) {
				t.Errorf("err = %v, want ErrInvalidFlow", err)
			}
		})
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, &CreateFlowRequest{ID: "f", Graph: twoStageGraph()}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}
	got.Graph.Stages[1].DependsOn[0] = "mutated"

	again, _ := store.Get(ctx, "f")
	if again.Graph.Stages[1].DependsOn[0] != "transcript" {
		t.Error("mutating a returned flow changed the stored copy")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("err = %v, want ErrFlowNotFound", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, &CreateFlowRequest{ID: "f", Graph: twoStageGraph()}); err != nil {
		t.Fatal(err)
	}

	desc := "updated"
	g := twoStageGraph()
	g.Stages = g.Stages[:1]
	flow, err := store.Update(ctx, "f", &UpdateFlowRequest{Description: &desc, Graph: &g})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if flow.Version != 2 || flow.Description != desc || len(flow.Graph.Stages) != 1 {
		t.Errorf("unexpected flow after update: %+v", flow)
	}
	if flow.Graph.Name != "f" {
		t.Errorf("graph name = %q, want f", flow.Graph.Name)
	}

	if _, err := store.Update(ctx, "f", &UpdateFlowRequest{Graph: &types.StageGraph{}}); !errors.Is(err, ErrInvalidFlow) {
		t.Errorf("err = %v, want ErrInvalidFlow", err)
	}
	if cur, _ := store.Get(ctx, "f"); cur.Version != 2 {
		t.Errorf("rejected update changed version to %d", cur.Version)
	}
	if _, err := store.Update(ctx, "missing", &UpdateFlowRequest{}); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("err = %v, want ErrFlowNotFound", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &CreateFlowRequest{ID: "f", Graph: twoStageGraph()})

	if err := store.Delete(ctx, "f"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "f"); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("err = %v, want ErrFlowNotFound", err)
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		by := "alice"
		if id == "b" {
			by = "bob"
		}
		if _, err := store.Create(ctx, &CreateFlowRequest{ID: id, Graph: twoStageGraph(), CreatedBy: by}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts *ListOptions
		want []string
	}{
		{"all sorted", nil, []string{"a", "b", "c"}},
		{"by creator", &ListOptions{CreatedBy: "alice"}, []string{"a", "c"}},
		{"offset", &ListOptions{Offset: 1}, []string{"b", "c"}},
		{"limit", &ListOptions{Limit: 1}, []string{"a"}},
		{"offset past end", &ListOptions{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flows, err := store.List(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(flows) != len(tt.want) {
				t.Fatalf("got %d flows, want %d", len(flows), len(tt.want))
			}
			for i, f := range flows {
				if f.ID != tt.want[i] {
					t.Errorf("flows[%d] = %s, want %s", i, f.ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_Lookup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &CreateFlowRequest{ID: "blog_only", Graph: twoStageGraph()})

	g, err := store.Lookup(ctx, "blog_only")
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "blog_only" || len(g.Stages) != 2 {
		t.Errorf("unexpected graph %+v", g)
	}
	if _, err := store.Lookup(ctx, "nope"); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("err = %v, want ErrFlowNotFound", err)
	}
}
