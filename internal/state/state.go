// Package state holds the mutable record of a single workflow run.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var (
	// ErrFinalized is returned for writes after the run reached a terminal status.
	ErrFinalized = errors.New("workflow already finalized")

	// ErrAlreadyRecorded is returned when a stage result is committed twice.
	ErrAlreadyRecorded = errors.New("stage result already recorded")

	// ErrUnknownStage is returned for stages not in the graph.
	ErrUnknownStage = errors.New("unknown stage")
)

// State guards a PipelineState. All writes go through one mutex so readers
// always observe a fully committed transition.
type State struct {
	mu  sync.RWMutex
	p   *types.PipelineState
	now func() time.Time
}

// New creates a PENDING state for a validated graph.
func New(workflowID string, input types.WorkflowInput, graph types.StageGraph) *State {
	return NewAt(workflowID, input, graph, time.Now)
}

// NewAt is New with an injectable clock.
func NewAt(workflowID string, input types.WorkflowInput, graph types.StageGraph, now func() time.Time) *State {
	p := &types.PipelineState{
		WorkflowID:   workflowID,
		Input:        input,
		Graph:        graph,
		StageResults: make(map[string]*types.StageResult, len(graph.Stages)),
		Status:       types.WorkflowStatusPending,
		Errors:       []types.ErrorEntry{},
		Metrics:      types.UsageMetrics{PerAgentBreakdown: map[string]types.AgentUsage{}},
		CreatedAt:    now().UTC(),
	}
	// Clone detaches the graph from the caller's slices.
	return &State{p: p.Clone(), now: now}
}

// Restore wraps a persisted state.
func Restore(p *types.PipelineState) *State {
	return &State{p: p.Clone(), now: time.Now}
}

// ID returns the immutable workflow id.
func (s *State) ID() string { return s.p.WorkflowID }

// Start moves PENDING to RUNNING.
func (s *State) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Status.IsTerminal() {
		return ErrFinalized
	}
	if s.p.Status == types.WorkflowStatusRunning {
		return nil
	}
	t := s.now().UTC()
	s.p.Status = types.WorkflowStatusRunning
	s.p.StartedAt = &t
	return nil
}

// StageStarted marks a stage RUNNING and makes it the current stage.
func (s *State) StageStarted(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Status.IsTerminal() {
		return ErrFinalized
	}
	if _, ok := s.p.Graph.Stage(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	s.p.RunningStages = append(s.p.RunningStages, name)
	s.p.CurrentStage = name
	return nil
}

// CommitStage records a stage's final result together with the usage
// totals at commit time and, for a failed stage, its error entry. A result
// is written at most once per stage.
func (s *State) CommitStage(name string, res *types.StageResult, usage types.UsageMetrics, failure *types.ErrorEntry) error {
	if res == nil {
		return fmt.Errorf("commit %s: nil result", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Status.IsTerminal() {
		return ErrFinalized
	}
	if _, ok := s.p.Graph.Stage(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	if _, dup := s.p.StageResults[name]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyRecorded, name)
	}

	r := *res
	r.Suggestions = append([]string(nil), res.Suggestions...)
	s.p.StageResults[name] = &r
	s.p.StageOrder = append(s.p.StageOrder, name)
	s.p.RunningStages = remove(s.p.RunningStages, name)
	if len(s.p.RunningStages) > 0 {
		s.p.CurrentStage = s.p.RunningStages[len(s.p.RunningStages)-1]
	}
	s.p.Metrics = usage.Clone()
	if failure != nil {
		e := *failure
		e.Stage = name
		if e.Timestamp.IsZero() {
			e.Timestamp = s.now().UTC()
		}
		s.p.Errors = append(s.p.Errors, e)
	}
	if total := len(s.p.Graph.Stages); total > 0 {
		s.p.Progress = float64(len(s.p.StageResults)) / float64(total) * 100
	}
	return nil
}

// AddError appends to the error log.
func (s *State) AddError(stage string, kind types.ErrorKind, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Status.IsTerminal() {
		return ErrFinalized
	}
	s.p.Errors = append(s.p.Errors, types.ErrorEntry{
		Stage:     stage,
		Kind:      kind,
		Message:   msg,
		Timestamp: s.now().UTC(),
	})
	return nil
}

// MarkCancelled sets the cancellation flag. It reports false if the run
// was already cancelled or finalized.
func (s *State) MarkCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Cancelled || s.p.Status.IsTerminal() {
		return false
	}
	s.p.Cancelled = true
	return true
}

// SetMetrics replaces the usage totals.
func (s *State) SetMetrics(usage types.UsageMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Status.IsTerminal() {
		return ErrFinalized
	}
	s.p.Metrics = usage.Clone()
	return nil
}

// Finalize sets the terminal status. It succeeds exactly once.
func (s *State) Finalize(status types.WorkflowStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finalize with non-terminal status %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Status.IsTerminal() {
		return ErrFinalized
	}
	t := s.now().UTC()
	s.p.Status = status
	s.p.FinishedAt = &t
	s.p.RunningStages = nil
	s.p.CurrentStage = ""
	return nil
}

// Snapshot returns a deep copy of the committed state.
func (s *State) Snapshot() *types.PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.Clone()
}

// Result returns a copy of a committed stage result.
func (s *State) Result(name string) (*types.StageResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.p.StageResults[name]
	if !ok {
		return nil, false
	}
	c := *r
	return &c, true
}

// Status returns the current workflow status.
func (s *State) Status() types.WorkflowStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.Status
}

// Cancelled reports whether cancellation was requested.
func (s *State) Cancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.Cancelled
}

func remove(list []string, name string) []string {
	for i, v := range list {
		if v == name {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
