package state

import (
	"errors"
	"testing"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func testGraph() types.StageGraph {
	return types.StageGraph{
		Name: "test",
		Stages: []types.StageSpec{
			{Name: "a", Agent: "x"},
			{Name: "b", Agent: "x", DependsOn: []string{"a"}},
		},
	}
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestState_Lifecycle(t *testing.T) {
	s := NewAt("wf-1", types.WorkflowInput{VideoRef: "v"}, testGraph(), fixedClock())

	if s.Status() != types.WorkflowStatusPending {
		t.Fatalf("status = %s, want PENDING", s.Status())
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.StageStarted("a"); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if snap.CurrentStage != "a" || len(snap.RunningStages) != 1 {
		t.Errorf("current = %q running = %v", snap.CurrentStage, snap.RunningStages)
	}

	usage := types.UsageMetrics{TotalCalls: 1, TotalTokens: 10, PerAgentBreakdown: map[string]types.AgentUsage{"x": {Calls: 1, Tokens: 10}}}
	if err := s.CommitStage("a", &types.StageResult{AgentName: "x", Success: true}, usage, nil); err != nil {
		t.Fatal(err)
	}
	snap = s.Snapshot()
	if snap.Progress != 50 {
		t.Errorf("progress = %v, want 50", snap.Progress)
	}
	if snap.Metrics.TotalTokens != 10 {
		t.Errorf("metrics not committed: %+v", snap.Metrics)
	}
	if len(snap.StageOrder) != 1 || snap.StageOrder[0] != "a" {
		t.Errorf("stage order = %v", snap.StageOrder)
	}

	err := s.CommitStage("a", &types.StageResult{}, usage, nil)
	if !errors.Is(err, ErrAlreadyRecorded) {
		t.Errorf("second commit err = %v, want ErrAlreadyRecorded", err)
	}
	if err := s.CommitStage("zzz", &types.StageResult{}, usage, nil); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("unknown stage err = %v", err)
	}

	if err := s.Finalize(types.WorkflowStatusPartial); err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(types.WorkflowStatusCompleted); !errors.Is(err, ErrFinalized) {
		t.Errorf("second finalize err = %v, want ErrFinalized", err)
	}
	if err := s.AddError("b", types.ErrorKindUnknown, "late"); !errors.Is(err, ErrFinalized) {
		t.Errorf("write after finalize err = %v", err)
	}

	final := s.Snapshot()
	if final.Status != types.WorkflowStatusPartial || final.FinishedAt == nil || final.StartedAt == nil {
		t.Errorf("final = %+v", final)
	}
}

func TestState_FailedCommitCarriesErrorEntry(t *testing.T) {
	s := NewAt("wf-4", types.WorkflowInput{}, testGraph(), fixedClock())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.StageStarted("a"); err != nil {
		t.Fatal(err)
	}

	before := s.Snapshot()
	if len(before.StageResults) != 0 || len(before.Errors) != 0 {
		t.Fatalf("unexpected state before commit: %+v", before)
	}

	failure := &types.ErrorEntry{Kind: types.ErrorKindToolFailure, Message: "llm unavailable"}
	if err := s.CommitStage("a", &types.StageResult{AgentName: "x", ErrorMessage: "llm unavailable"}, types.UsageMetrics{}, failure); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if len(snap.Errors) != 1 {
		t.Fatalf("errors = %+v, want one entry alongside the failed result", snap.Errors)
	}
	e := snap.Errors[0]
	if e.Stage != "a" || e.Kind != types.ErrorKindToolFailure || e.Message != "llm unavailable" || e.Timestamp.IsZero() {
		t.Errorf("error entry = %+v", e)
	}
	if snap.StageResults["a"] == nil || snap.StageResults["a"].Success {
		t.Errorf("result = %+v", snap.StageResults["a"])
	}

	// A rejected commit leaves the error log untouched.
	if err := s.CommitStage("a", &types.StageResult{}, types.UsageMetrics{}, failure); !errors.Is(err, ErrAlreadyRecorded) {
		t.Fatalf("err = %v", err)
	}
	if n := len(s.Snapshot().Errors); n != 1 {
		t.Errorf("errors after rejected commit = %d, want 1", n)
	}
}

func TestState_SnapshotIsolated(t *testing.T) {
	s := New("wf-2", types.WorkflowInput{Keywords: []string{"k"}}, testGraph())
	_ = s.CommitStage("a", &types.StageResult{Success: true, Suggestions: []string{"s"}}, types.UsageMetrics{}, nil)

	snap := s.Snapshot()
	snap.StageResults["a"].Success = false
	snap.StageResults["a"].Suggestions[0] = "mutated"
	snap.Input.Keywords[0] = "mutated"
	snap.Graph.Stages[1].DependsOn[0] = "mutated"

	again := s.Snapshot()
	if !again.StageResults["a"].Success || again.StageResults["a"].Suggestions[0] != "s" {
		t.Error("snapshot mutation leaked into state results")
	}
	if again.Input.Keywords[0] != "k" || again.Graph.Stages[1].DependsOn[0] != "a" {
		t.Error("snapshot mutation leaked into input or graph")
	}
}

func TestState_Cancel(t *testing.T) {
	s := New("wf-3", types.WorkflowInput{}, testGraph())
	if !s.MarkCancelled() {
		t.Fatal("first cancel should succeed")
	}
	if s.MarkCancelled() {
		t.Error("second cancel should be a no-op")
	}
	if !s.Cancelled() {
		t.Error("cancelled flag not set")
	}
}

func TestFinalize_RejectsNonTerminal(t *testing.T) {
	s := New("wf-4", types.WorkflowInput{}, testGraph())
	if err := s.Finalize(types.WorkflowStatusRunning); err == nil {
		t.Error("expected error for non-terminal status")
	}
}
