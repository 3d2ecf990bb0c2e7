package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/accounting"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/agent"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/registry"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/transcribe"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

type harness struct {
	o     *Orchestrator
	store *runstore.MemoryStore
	reg   *registry.Registry
}

func newHarness(t *testing.T, cfg *Config, reg *registry.Registry, defs ...tool.Definition) *harness {
	t.Helper()
	if reg == nil {
		reg = registry.New()
	}
	inv := tool.NewInvoker(nil)
	for _, d := range defs {
		if err := inv.Register(d); err != nil {
			t.Fatalf("register tool %s: %v", d.Name, err)
		}
	}
	store := runstore.NewMemoryStore(nil)
	wrapper := resilience.NewWrapper(
		resilience.NewBreakers(resilience.DefaultBreakerConfig(), nil),
		resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		nil,
	)
	o, err := New(cfg, Deps{Registry: reg, Invoker: inv, Wrapper: wrapper, Store: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return &harness{o: o, store: store, reg: reg}
}

func (h *harness) submitAndWait(t *testing.T, in types.WorkflowInput, g types.StageGraph) *types.PipelineState {
	t.Helper()
	id, err := h.o.Submit(context.Background(), in, g)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := h.o.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return st
}

func ok() agent.Agent {
	return agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		return &types.AgentResponse{Success: true, Content: types.PlaceholderContent(in.Stage), Confidence: 0.9}, nil
	})
}

func failing(kind types.ErrorKind) agent.Agent {
	return agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		return nil, resilience.Errorf(kind, "stage %s broke", in.Stage)
	})
}

func mustRegister(t *testing.T, reg *registry.Registry, agents map[string]agent.Agent) {
	t.Helper()
	for name, a := range agents {
		if err := reg.Register(name, a); err != nil {
			t.Fatal(err)
		}
	}
}

func errorKinds(st *types.PipelineState) map[string]types.ErrorKind {
	out := make(map[string]types.ErrorKind)
	for _, e := range st.Errors {
		out[e.Stage] = e.Kind
	}
	return out
}

func TestSubmit_InvalidGraphCreatesNoState(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{"a": ok()})
	h := newHarness(t, nil, reg)

	tests := []struct {
		name  string
		graph types.StageGraph
		want  GraphProblem
	}{
		{"empty", types.StageGraph{}, ProblemEmpty},
		{"cycle", types.StageGraph{Stages: []types.StageSpec{
			{Name: "x", Agent: "a", DependsOn: []string{"z"}},
			{Name: "y", Agent: "a", DependsOn: []string{"x"}},
			{Name: "z", Agent: "a", DependsOn: []string{"y"}},
		}}, ProblemCycle},
		{"self dependency", types.StageGraph{Stages: []types.StageSpec{
			{Name: "x", Agent: "a", DependsOn: []string{"x"}},
		}}, ProblemCycle},
		{"unknown dependency", types.StageGraph{Stages: []types.StageSpec{
			{Name: "x", Agent: "a", DependsOn: []string{"nope"}},
		}}, ProblemUnknownDep},
		{"unknown agent", types.StageGraph{Stages: []types.StageSpec{
			{Name: "x", Agent: "ghost"},
		}}, ProblemUnknownAgent},
		{"duplicate stage", types.StageGraph{Stages: []types.StageSpec{
			{Name: "x", Agent: "a"}, {Name: "x", Agent: "a"},
		}}, ProblemDuplicateStage},
		{"unknown terminal", types.StageGraph{Terminal: "q", Stages: []types.StageSpec{
			{Name: "x", Agent: "a"},
		}}, ProblemUnknownTerm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := h.o.Submit(context.Background(), types.WorkflowInput{VideoRef: "v"}, tt.graph)
			var ige *InvalidGraphError
			if !errors.As(err, &ige) {
				t.Fatalf("expected InvalidGraphError, got %v", err)
			}
			if ige.Problem != tt.want {
				t.Errorf("problem = %s, want %s", ige.Problem, tt.want)
			}
			if !errors.Is(err, ErrInvalidGraph) {
				t.Error("error should match ErrInvalidGraph")
			}
			if id != "" {
				t.Errorf("id = %q, want empty", id)
			}
		})
	}

	states, err := h.store.ListStates(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 0 {
		t.Errorf("invalid submissions created %d states", len(states))
	}
}

func TestValidate_TopologicalOrder(t *testing.T) {
	g := types.StageGraph{Stages: []types.StageSpec{
		{Name: "d", Agent: "a", DependsOn: []string{"b", "c"}},
		{Name: "b", Agent: "a", DependsOn: []string{"a"}},
		{Name: "c", Agent: "a", DependsOn: []string{"a"}},
		{Name: "a", Agent: "a"},
	}}
	p, err := validate(g, func(string) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c", "d"}
	if fmt.Sprint(p.order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", p.order, want)
	}
	if p.terminal != "d" {
		t.Errorf("terminal = %s, want d", p.terminal)
	}
}

func TestValidate_PlanOwnsStages(t *testing.T) {
	g := types.StageGraph{Stages: []types.StageSpec{
		{Name: "a", Agent: "a"},
		{Name: "b", Agent: "a", DependsOn: []string{"a"}},
	}}
	p, err := validate(g, func(string) bool { return true })
	if err != nil {
		t.Fatal(err)
	}

	g.Stages[0].Agent = "changed"
	g.Stages[1].DependsOn[0] = "changed"
	g.Stages[1].Critique = true

	if p.specs["a"].Agent != "a" {
		t.Errorf("agent = %q, caller edit leaked into plan", p.specs["a"].Agent)
	}
	b := p.specs["b"]
	if b.DependsOn[0] != "a" || b.Critique {
		t.Errorf("stage b = %+v, caller edit leaked into plan", b)
	}
	if p.graph.Stages[1].DependsOn[0] != "a" {
		t.Error("plan graph shares DependsOn with caller")
	}
}

func TestRegisterAgent_Duplicate(t *testing.T) {
	h := newHarness(t, nil, nil)
	if err := h.o.RegisterAgent("a", ok()); err != nil {
		t.Fatal(err)
	}
	if err := h.o.RegisterAgent("a", ok()); !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("expected ErrDuplicateAgent, got %v", err)
	}
}

func TestRun_ContentRepurposingFlow(t *testing.T) {
	hosted := accounting.Pricing{DefaultPerToken: accounting.DefaultPerToken}
	h := newHarness(t, nil, registry.NewWithBuiltins(),
		tool.LLM(llm.NewMockClient(), hosted, time.Second),
		tool.Transcribe(&transcribe.StaticExtractor{Text: "Acme Planner keeps every task in one place. The planner sorts the week.", Confidence: 0.95}, time.Second),
		tool.Keywords(),
	)

	st := h.submitAndWait(t, types.WorkflowInput{
		VideoRef:       "video-123",
		BrandVoice:     "friendly",
		Keywords:       []string{"planner"},
		EnableCritique: true,
		TrackCosts:     true,
	}, ContentRepurposing())

	if st.Status != types.WorkflowStatusCompleted {
		t.Fatalf("status = %s, errors = %+v", st.Status, st.Errors)
	}
	if len(st.StageResults) != 9 || st.Progress != 100 {
		t.Errorf("results = %d, progress = %v", len(st.StageResults), st.Progress)
	}
	if st.StageOrder[0] != StageTranscript || st.StageOrder[len(st.StageOrder)-1] != StageQuality {
		t.Errorf("stage order = %v", st.StageOrder)
	}
	blog := st.StageResults[StageBlog]
	if blog.Critique == nil || blog.Critique.Outcome != types.CritiqueAccepted || blog.Critique.IterationCount != 1 {
		t.Errorf("blog critique = %+v", blog.Critique)
	}
	if st.Metrics.TotalCalls == 0 || st.Metrics.TotalCost <= 0 {
		t.Errorf("metrics = %+v", st.Metrics)
	}
	var sum int
	for _, u := range st.Metrics.PerAgentBreakdown {
		sum += u.Tokens
	}
	if sum != st.Metrics.TotalTokens {
		t.Errorf("breakdown tokens %d != total %d", sum, st.Metrics.TotalTokens)
	}

	events, err := h.o.Events().Entries(context.Background(), st.WorkflowID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if last := events[len(events)-1]; last.Type != types.EventTypeStreamEnd {
		t.Errorf("last event = %s, want stream_end", last.Type)
	}
}

func TestRun_TranscriptionTimeout(t *testing.T) {
	h := newHarness(t, nil, registry.NewWithBuiltins(),
		tool.LLM(llm.NewMockClient(), accounting.DefaultPricing(), time.Second),
		tool.Transcribe(&transcribe.StaticExtractor{Text: "never", Delay: time.Hour}, 20*time.Millisecond),
		tool.Keywords(),
	)

	st := h.submitAndWait(t, types.WorkflowInput{VideoRef: "video-slow"}, ContentRepurposing())

	if st.Status != types.WorkflowStatusFailed && st.Status != types.WorkflowStatusPartial {
		t.Fatalf("status = %s", st.Status)
	}
	kinds := errorKinds(st)
	if kinds[StageTranscript] != types.ErrorKindTimeout {
		t.Errorf("transcript error kind = %s, want TIMEOUT", kinds[StageTranscript])
	}
	if kinds[StageAnalysis] != types.ErrorKindUpstreamSkipped {
		t.Errorf("analysis error kind = %s, want UPSTREAM_SKIPPED", kinds[StageAnalysis])
	}
	tr := st.StageResults[StageTranscript]
	if tr.Success || tr.Confidence != 0 || tr.RetryCount != 2 {
		t.Errorf("transcript result = %+v", tr)
	}
	if st.StageResults[StageAnalysis].ErrorMessage != "upstream failure" {
		t.Errorf("analysis message = %q", st.StageResults[StageAnalysis].ErrorMessage)
	}
}

// gauge tracks the highest number of concurrently running agents.
type gauge struct {
	cur, max atomic.Int64
}

func (g *gauge) agent(hold time.Duration) agent.Agent {
	return agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		n := g.cur.Add(1)
		for {
			m := g.max.Load()
			if n <= m || g.max.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(hold)
		g.cur.Add(-1)
		return &types.AgentResponse{Success: true, Content: types.PlaceholderContent(in.Stage), Confidence: 1}, nil
	})
}

func independent(n int, agentName string) types.StageGraph {
	g := types.StageGraph{Name: "fan"}
	for i := 0; i < n; i++ {
		g.Stages = append(g.Stages, types.StageSpec{Name: fmt.Sprintf("s%d", i), Agent: agentName})
	}
	return g
}

func TestRun_MaxConcurrentAgents(t *testing.T) {
	tests := []struct {
		name    string
		gate    int
		perRun  int
		mode    types.ExecutionMode
		wantMax int64
	}{
		{"engine gate", 2, 0, types.ModeParallel, 2},
		{"per-run cap", 0, 2, types.ModeParallel, 2},
		{"adaptive under gate", 2, 0, types.ModeAdaptive, 2},
		{"sequential", 0, 0, types.ModeSequential, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &gauge{}
			reg := registry.New()
			mustRegister(t, reg, map[string]agent.Agent{"worker": g.agent(30 * time.Millisecond)})
			cfg := DefaultConfig()
			cfg.MaxConcurrentAgents = tt.gate
			h := newHarness(t, cfg, reg)

			st, observed := h.runSampled(t, types.WorkflowInput{VideoRef: "v", Mode: tt.mode, MaxConcurrentAgents: tt.perRun}, independent(5, "worker"))
			if st.Status != types.WorkflowStatusCompleted {
				t.Fatalf("status = %s", st.Status)
			}
			if got := g.max.Load(); got > tt.wantMax {
				t.Errorf("max running = %d, want <= %d", got, tt.wantMax)
			}
			if got := g.max.Load(); got < tt.wantMax {
				t.Errorf("max running = %d, expected the cap to be reached", got)
			}
			if int64(observed) > tt.wantMax {
				t.Errorf("GetStatus reported %d RUNNING stages, want <= %d", observed, tt.wantMax)
			}
		})
	}
}

// Stages that return immediately must not free their slot before the
// scheduler has committed them.
func TestRun_GateCoversRunningStages(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{"instant": ok()})
	cfg := DefaultConfig()
	cfg.MaxConcurrentAgents = 2
	h := newHarness(t, cfg, reg)

	for round := 0; round < 50; round++ {
		st, observed := h.runSampled(t, types.WorkflowInput{VideoRef: "v"}, independent(5, "instant"))
		if st.Status != types.WorkflowStatusCompleted {
			t.Fatalf("round %d: status = %s", round, st.Status)
		}
		if observed > 2 {
			t.Fatalf("round %d: GetStatus reported %d RUNNING stages with a gate of 2", round, observed)
		}
	}
}

// runSampled submits g and polls GetStatus until the run finishes. It
// returns the final state and the most RUNNING stages any snapshot showed.
func (h *harness) runSampled(t *testing.T, in types.WorkflowInput, g types.StageGraph) (*types.PipelineState, int) {
	t.Helper()
	id, err := h.o.Submit(context.Background(), in, g)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var maxRunning atomic.Int64
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if st, err := h.o.GetStatus(ctx, id); err == nil {
				if n := int64(len(st.RunningStages)); n > maxRunning.Load() {
					maxRunning.Store(n)
				}
			}
		}
	}()

	st, err := h.o.Wait(ctx, id)
	close(stop)
	<-sampled
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return st, int(maxRunning.Load())
}

func TestRun_FailurePropagation(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{
		"ok":   ok(),
		"boom": failing(types.ErrorKindToolFailure),
	})
	h := newHarness(t, nil, reg)

	g := types.StageGraph{Name: "partial", Stages: []types.StageSpec{
		{Name: "src", Agent: "ok"},
		{Name: "bad", Agent: "boom", DependsOn: []string{"src"}},
		{Name: "child", Agent: "ok", DependsOn: []string{"bad"}},
		{Name: "grandchild", Agent: "ok", DependsOn: []string{"child"}},
		{Name: "sibling", Agent: "ok", DependsOn: []string{"src"}},
		{Name: "agg", Agent: "ok", DependsOn: []string{"grandchild", "sibling"}, AllowPartial: true},
	}}
	st := h.submitAndWait(t, types.WorkflowInput{VideoRef: "v"}, g)

	if st.Status != types.WorkflowStatusPartial {
		t.Fatalf("status = %s", st.Status)
	}
	kinds := errorKinds(st)
	tests := []struct {
		stage   string
		success bool
		kind    types.ErrorKind
	}{
		{"src", true, ""},
		{"bad", false, types.ErrorKindToolFailure},
		{"child", false, types.ErrorKindUpstreamSkipped},
		{"grandchild", false, types.ErrorKindUpstreamSkipped},
		{"sibling", true, ""},
		{"agg", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			res := st.StageResults[tt.stage]
			if res == nil {
				t.Fatal("no result")
			}
			if res.Success != tt.success || kinds[tt.stage] != tt.kind {
				t.Errorf("success = %v kind = %s, want %v %s", res.Success, kinds[tt.stage], tt.success, tt.kind)
			}
		})
	}

	t.Run("failed terminal fails the workflow", func(t *testing.T) {
		g := types.StageGraph{Name: "strict", Stages: []types.StageSpec{
			{Name: "src", Agent: "boom"},
			{Name: "agg", Agent: "ok", DependsOn: []string{"src"}, AllowPartial: true},
		}}
		st := h.submitAndWait(t, types.WorkflowInput{VideoRef: "v"}, g)
		if st.Status != types.WorkflowStatusFailed {
			t.Errorf("status = %s, want FAILED", st.Status)
		}
	})
}

func TestRun_ExecutionOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	rec := agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		mu.Lock()
		order = append(order, in.Stage)
		mu.Unlock()
		return &types.AgentResponse{Success: true, Content: types.PlaceholderContent(in.Stage), Confidence: 1}, nil
	})
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{"rec": rec})

	g := types.StageGraph{Name: "ranked", Stages: []types.StageSpec{
		{Name: "root", Agent: "rec"},
		{Name: "low", Agent: "rec", DependsOn: []string{"root"}, Priority: 1},
		{Name: "pricey", Agent: "rec", DependsOn: []string{"root"}, Priority: 5, EstimatedCost: 2},
		{Name: "high", Agent: "rec", DependsOn: []string{"root"}, Priority: 5, EstimatedCost: 1},
	}}

	tests := []struct {
		mode types.ExecutionMode
		want []string
	}{
		{types.ModeSequential, []string{"root", "low", "pricey", "high"}},
		{types.ModeAdaptive, []string{"root", "high", "pricey", "low"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			mu.Lock()
			order = nil
			mu.Unlock()
			cfg := DefaultConfig()
			cfg.MaxConcurrentAgents = 1
			h := newHarness(t, cfg, reg)

			st := h.submitAndWait(t, types.WorkflowInput{VideoRef: "v", Mode: tt.mode}, g)
			if st.Status != types.WorkflowStatusCompleted {
				t.Fatalf("status = %s", st.Status)
			}
			mu.Lock()
			defer mu.Unlock()
			if fmt.Sprint(order) != fmt.Sprint(tt.want) {
				t.Errorf("order = %v, want %v", order, tt.want)
			}
		})
	}
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocker := agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		close(started)
		<-release
		return &types.AgentResponse{Success: true, Content: types.PlaceholderContent(in.Stage), Confidence: 1}, nil
	})
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{"block": blocker, "ok": ok()})
	h := newHarness(t, nil, reg)

	g := types.StageGraph{Name: "cancel", Stages: []types.StageSpec{
		{Name: "first", Agent: "block"},
		{Name: "second", Agent: "ok", DependsOn: []string{"first"}},
		{Name: "third", Agent: "ok", DependsOn: []string{"second"}},
	}}
	id, err := h.o.Submit(context.Background(), types.WorkflowInput{VideoRef: "v"}, g)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if err := h.o.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.o.Wait(ctx, id)
	if err != nil {
		t.Fatal(err)
	}

	if st.Status != types.WorkflowStatusFailed || !st.Cancelled {
		t.Errorf("status = %s cancelled = %v", st.Status, st.Cancelled)
	}
	if !st.StageResults["first"].Success {
		t.Error("in-flight stage result should be retained")
	}
	kinds := errorKinds(st)
	for _, name := range []string{"second", "third"} {
		if kinds[name] != types.ErrorKindCancelled {
			t.Errorf("%s kind = %s, want CANCELLED", name, kinds[name])
		}
	}
	if kinds[""] != types.ErrorKindCancelled {
		t.Error("missing workflow-level CANCELLED entry")
	}
	if err := h.o.Cancel(context.Background(), id); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("second cancel = %v, want ErrAlreadyFinished", err)
	}
	if err := h.o.Cancel(context.Background(), "missing"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("unknown cancel = %v, want ErrWorkflowNotFound", err)
	}
}

func TestRun_StageTimeoutAndPanic(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{
		"slow": agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		"panics": agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
			panic("kaboom")
		}),
		"ok": ok(),
	})
	h := newHarness(t, nil, reg)

	g := types.StageGraph{Name: "bad", Stages: []types.StageSpec{
		{Name: "slow", Agent: "slow", TimeoutSeconds: 0.02},
		{Name: "panics", Agent: "panics"},
		{Name: "agg", Agent: "ok", DependsOn: []string{"slow", "panics"}, AllowPartial: true},
	}}
	st := h.submitAndWait(t, types.WorkflowInput{VideoRef: "v"}, g)

	kinds := errorKinds(st)
	if kinds["slow"] != types.ErrorKindTimeout {
		t.Errorf("slow kind = %s, want TIMEOUT", kinds["slow"])
	}
	if kinds["panics"] != types.ErrorKindAgentFailure {
		t.Errorf("panics kind = %s, want AGENT_FAILURE", kinds["panics"])
	}
	if kinds["agg"] != types.ErrorKindUpstreamSkipped || st.Status != types.WorkflowStatusFailed {
		t.Errorf("agg kind = %s status = %s", kinds["agg"], st.Status)
	}
	if c := st.StageResults["slow"].Content; c.Kind != types.KindPlaceholder {
		t.Errorf("fallback content kind = %s", c.Kind)
	}
}

func TestRun_RetriedCallIsBilledOnce(t *testing.T) {
	var attempts atomic.Int32
	flaky := tool.Definition{
		Name: "flaky",
		Handler: func(ctx context.Context, params map[string]any) (*tool.Result, error) {
			if attempts.Add(1) == 1 {
				return nil, resilience.Errorf(types.ErrorKindNetwork, "connection reset")
			}
			return &tool.Result{Value: "ok", Tokens: 10, Cost: 0.5, Billable: true}, nil
		},
	}
	caller := agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		resp := in.Tools.Call(ctx, "flaky", nil)
		if !resp.Success {
			return nil, resilience.ResponseError(resp)
		}
		return &types.AgentResponse{Success: true, Content: types.PlaceholderContent("done"), Confidence: 1}, nil
	})
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{"caller": caller})

	tests := []struct {
		name     string
		track    bool
		wantCost float64
	}{
		{"tracked", true, 0.5},
		{"untracked", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts.Store(0)
			h := newHarness(t, nil, reg, flaky)
			st := h.submitAndWait(t, types.WorkflowInput{VideoRef: "v", TrackCosts: tt.track},
				types.StageGraph{Name: "one", Stages: []types.StageSpec{{Name: "only", Agent: "caller"}}})

			if st.Status != types.WorkflowStatusCompleted {
				t.Fatalf("status = %s", st.Status)
			}
			if st.Metrics.TotalCalls != 1 || st.Metrics.TotalTokens != 10 || st.Metrics.TotalCost != tt.wantCost {
				t.Errorf("metrics = %+v", st.Metrics)
			}
			if st.StageResults["only"].RetryCount != 1 {
				t.Errorf("retry count = %d, want 1", st.StageResults["only"].RetryCount)
			}
		})
	}
}

func TestRecover_ResumesFromCommittedResults(t *testing.T) {
	var calls sync.Map
	counting := agent.Func(func(ctx context.Context, in *agent.Input) (*types.AgentResponse, error) {
		calls.Store(in.Stage, true)
		return &types.AgentResponse{Success: true, Content: types.PlaceholderContent(in.Stage), Confidence: 1}, nil
	})
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{"count": counting})
	h := newHarness(t, nil, reg)

	g := types.StageGraph{Name: "resume", Stages: []types.StageSpec{
		{Name: "a", Agent: "count"},
		{Name: "b", Agent: "count", DependsOn: []string{"a"}},
	}}
	now := time.Now().UTC()
	persisted := &types.PipelineState{
		WorkflowID: "wf-old",
		Input:      types.WorkflowInput{VideoRef: "v", Mode: types.ModeParallel},
		Graph:      g,
		StageResults: map[string]*types.StageResult{
			"a": {AgentName: "count", Success: true, Content: types.PlaceholderContent("a"), Confidence: 1},
		},
		StageOrder:    []string{"a"},
		Status:        types.WorkflowStatusRunning,
		RunningStages: []string{"b"},
		Metrics:       types.UsageMetrics{PerAgentBreakdown: map[string]types.AgentUsage{}},
		CreatedAt:     now,
		StartedAt:     &now,
	}
	if err := h.store.SaveState(context.Background(), persisted); err != nil {
		t.Fatal(err)
	}

	ids, err := h.o.Recover(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != "wf-old" {
		t.Fatalf("Recover = %v, %v", ids, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.o.Wait(ctx, "wf-old")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.WorkflowStatusCompleted {
		t.Fatalf("status = %s", st.Status)
	}
	if _, ran := calls.Load("a"); ran {
		t.Error("committed stage a ran again")
	}
	if _, ran := calls.Load("b"); !ran {
		t.Error("stage b did not run")
	}
}

func TestGetStatus(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, map[string]agent.Agent{"ok": ok()})
	h := newHarness(t, nil, reg)

	if _, err := h.o.GetStatus(context.Background(), "nope"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}

	st := h.submitAndWait(t, types.WorkflowInput{VideoRef: "v"}, independent(1, "ok"))
	got, err := h.o.GetStatus(context.Background(), st.WorkflowID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.WorkflowStatusCompleted || got.FinishedAt == nil {
		t.Errorf("persisted status = %s", got.Status)
	}
	list, err := h.o.List(context.Background(), &runstore.ListOptions{Status: types.WorkflowStatusCompleted})
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
}
