package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/registry"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func TestRanker_Score(t *testing.T) {
	r := NewRanker()

	tests := []struct {
		name       string
		expression string
		env        rankEnv
		want       float64
		wantErr    bool
	}{
		{"default", "", rankEnv{Priority: 5, EstimatedCost: 1.5}, 3.5, false},
		{"fan-out first", "dependents * 10 + priority", rankEnv{Priority: 2, Dependents: 3}, 32, false},
		{"agent aware", `agent == "blog_writer" ? 100 : priority`, rankEnv{Agent: "blog_writer"}, 100, false},
		{"unknown variable", "nope + 1", rankEnv{}, 0, true},
		{"non-numeric", `stage + "x"`, rankEnv{Stage: "a"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Score(tt.expression, tt.env)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRanker_Order(t *testing.T) {
	p, err := validate(ContentRepurposing(), func(string) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	r := NewRanker()

	got := r.order("", p, []string{StageBlog, StageScript, StageNewsletter, StageSocial})
	want := []string{StageSocial, StageNewsletter, StageScript, StageBlog}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	got = r.order("depth", p, []string{StageProducts, StageSEO, StageAnalysis})
	if got[0] != StageAnalysis {
		t.Errorf("deepest stage should rank first, got %v", got)
	}
}

func TestNew_RejectsBadRankExpression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RankExpression = "priority +"
	_, err := New(cfg, Deps{
		Registry: registry.New(),
		Invoker:  tool.NewInvoker(nil),
		Store:    runstore.NewMemoryStore(nil),
	})
	if err == nil {
		t.Fatal("expected a compile error")
	}
}

// ladder builds layers of width stages where every stage depends on every
// stage of the previous layer.
func ladder(layers, width int) types.StageGraph {
	g := types.StageGraph{Name: "ladder"}
	for l := 0; l < layers; l++ {
		for w := 0; w < width; w++ {
			s := types.StageSpec{Name: fmt.Sprintf("l%d_%d", l, w), Agent: "worker"}
			if l > 0 {
				for pw := 0; pw < width; pw++ {
					s.DependsOn = append(s.DependsOn, fmt.Sprintf("l%d_%d", l-1, pw))
				}
			}
			g.Stages = append(g.Stages, s)
		}
	}
	return g
}

func TestRanker_OrderDeepGraph(t *testing.T) {
	p, err := validate(ladder(60, 2), func(string) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if got := p.depth["l0_0"]; got != 59 {
		t.Errorf("depth(l0_0) = %d, want 59", got)
	}
	if got := p.depth["l59_1"]; got != 0 {
		t.Errorf("depth(l59_1) = %d, want 0", got)
	}

	r := NewRanker()
	start := time.Now()
	got := r.order("depth", p, []string{"l0_1", "l0_0"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ranking took %s", elapsed)
	}
	if fmt.Sprint(got) != "[l0_0 l0_1]" {
		t.Errorf("order = %v", got)
	}
}
