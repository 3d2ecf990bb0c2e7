// Package orchestrator executes stage graphs of agents for a workflow run.
//
// A run is scheduled event by event: a stage becomes ready once its
// dependencies resolved, is admitted through the engine-wide gate, runs in
// its own goroutine and reports back on a completion channel. Only the
// scheduling goroutine writes stage results, so every committed transition
// is visible to GetStatus as a whole.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/accounting"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/agent"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/observability"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/registry"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/state"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// ErrShuttingDown is returned by Submit after Shutdown was called.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Config holds engine configuration.
type Config struct {
	// MaxConcurrentAgents is the engine-wide admission gate (0 = unlimited).
	MaxConcurrentAgents int

	// DefaultMode applies to submissions that do not choose one.
	DefaultMode types.ExecutionMode

	// StageTimeout bounds stages that do not declare their own timeout.
	StageTimeout time.Duration

	// RankExpression orders ready stages in ADAPTIVE mode.
	RankExpression string

	// Critique defaults for submissions that leave them zero.
	QualityThreshold float64
	MaxIterations    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentAgents: 4,
		DefaultMode:         types.ModeParallel,
		StageTimeout:        2 * time.Minute,
		RankExpression:      DefaultRankExpression,
		QualityThreshold:    0.8,
		MaxIterations:       3,
	}
}

// FlowSource resolves saved flow names to stage graphs.
type FlowSource interface {
	Lookup(ctx context.Context, name string) (types.StageGraph, error)
}

// Deps are the collaborators an orchestrator runs with.
type Deps struct {
	Registry *registry.Registry
	Invoker  *tool.Invoker
	Wrapper  *resilience.Wrapper
	Store    runstore.Store
	Flows    FlowSource
	Logger   *slog.Logger

	// OnFinish is called after a run reaches a terminal status.
	OnFinish func(ctx context.Context, st *types.PipelineState)
}

// run is the in-memory handle of one executing workflow.
type run struct {
	id         string
	plan       *plan
	input      types.WorkflowInput
	state      *state.State
	accountant *accounting.Accountant

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}
}

func (r *run) requestCancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

// Orchestrator schedules workflow runs.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	invoker  *tool.Invoker
	wrapper  *resilience.Wrapper
	store    runstore.Store
	flows    FlowSource
	events   *observability.Log
	logger   *slog.Logger
	tracer   trace.Tracer
	ranker   *Ranker
	onFinish func(ctx context.Context, st *types.PipelineState)

	// gate is the engine-wide admission semaphore; nil means unlimited.
	gate chan struct{}

	runsMu  sync.RWMutex
	runs    map[string]*run
	closing bool

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates an orchestrator. Registry, Invoker and Store are required.
func New(cfg *Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Registry == nil || deps.Invoker == nil || deps.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a registry, an invoker and a store")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Wrapper == nil {
		deps.Wrapper = resilience.NewWrapper(nil, resilience.DefaultRetryPolicy(), deps.Logger)
	}
	c := *cfg
	if c.DefaultMode == "" {
		c.DefaultMode = types.ModeParallel
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = DefaultConfig().StageTimeout
	}

	ranker := NewRanker()
	if _, err := ranker.Compile(c.RankExpression); err != nil {
		return nil, err
	}

	var gate chan struct{}
	if c.MaxConcurrentAgents > 0 {
		gate = make(chan struct{}, c.MaxConcurrentAgents)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      c,
		registry: deps.Registry,
		invoker:  deps.Invoker,
		wrapper:  deps.Wrapper,
		store:    deps.Store,
		flows:    deps.Flows,
		events:   observability.New(deps.Store, deps.Logger),
		logger:   deps.Logger,
		tracer:   otel.Tracer("repurpose/orchestrator"),
		ranker:   ranker,
		onFinish: deps.OnFinish,
		gate:     gate,
		runs:     make(map[string]*run),
		ctx:      ctx,
		stop:     stop,
	}, nil
}

// Events exposes the observability log.
func (o *Orchestrator) Events() *observability.Log { return o.events }

// Registry exposes the agent registry.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Health reports circuit breaker states.
func (o *Orchestrator) Health() resilience.Health { return o.wrapper.Breakers().Health() }

// RegisterAgent adds an agent under name.
func (o *Orchestrator) RegisterAgent(name string, a agent.Agent) error {
	if err := o.registry.Register(name, a); err != nil {
		if errors.Is(err, registry.ErrAgentExists) {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, name)
		}
		return err
	}
	return nil
}

// Graph resolves a flow name. The built-in flow is always available.
func (o *Orchestrator) Graph(ctx context.Context, flow string) (types.StageGraph, error) {
	if flow == "" || flow == ContentRepurposingFlow {
		return ContentRepurposing(), nil
	}
	if o.flows == nil {
		return types.StageGraph{}, fmt.Errorf("%w: %s", ErrUnknownFlow, flow)
	}
	g, err := o.flows.Lookup(ctx, flow)
	if err != nil {
		return types.StageGraph{}, fmt.Errorf("%w: %s: %v", ErrUnknownFlow, flow, err)
	}
	return g, nil
}

// Submit validates graph, persists a PENDING state and starts the run in
// the background. An invalid graph returns *InvalidGraphError and creates
// no state.
func (o *Orchestrator) Submit(ctx context.Context, input types.WorkflowInput, graph types.StageGraph) (string, error) {
	p, err := validate(graph, o.registry.Exists)
	if err != nil {
		return "", err
	}
	input = o.withDefaults(input)

	o.runsMu.Lock()
	closing := o.closing
	o.runsMu.Unlock()
	if closing {
		return "", ErrShuttingDown
	}

	id := uuid.NewString()
	st := state.New(id, input, p.graph)
	if err := o.store.SaveState(ctx, st.Snapshot()); err != nil {
		return "", fmt.Errorf("persist workflow %s: %w", id, err)
	}

	r := &run{
		id:         id,
		plan:       p,
		input:      input,
		state:      st,
		accountant: accounting.New(),
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	o.start(r)

	o.logger.Info("workflow submitted",
		slog.String("workflow_id", id),
		slog.String("flow", p.graph.Name),
		slog.String("mode", string(input.Mode)),
		slog.Int("stages", len(p.graph.Stages)),
	)
	return id, nil
}

func (o *Orchestrator) start(r *run) {
	o.runsMu.Lock()
	o.runs[r.id] = r
	o.runsMu.Unlock()

	o.events.WorkflowStatus(o.ctx, r.id, r.state.Status(), "")
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(o.ctx, r)
	}()
}

func (o *Orchestrator) withDefaults(in types.WorkflowInput) types.WorkflowInput {
	if in.Mode == "" {
		in.Mode = o.cfg.DefaultMode
	}
	if in.QualityThreshold <= 0 {
		in.QualityThreshold = o.cfg.QualityThreshold
	}
	if in.MaxIterations <= 0 {
		in.MaxIterations = o.cfg.MaxIterations
	}
	return in
}

func (o *Orchestrator) lookup(id string) (*run, bool) {
	o.runsMu.RLock()
	defer o.runsMu.RUnlock()
	r, ok := o.runs[id]
	return r, ok
}

// GetStatus returns a snapshot of the last committed state. It never blocks
// on a running workflow.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*types.PipelineState, error) {
	if r, ok := o.lookup(id); ok {
		return r.state.Snapshot(), nil
	}
	st, err := o.store.LoadState(ctx, id)
	if err != nil {
		if errors.Is(err, runstore.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}
		return nil, err
	}
	return st, nil
}

// Wait blocks until the workflow finishes or ctx is done, then returns its state.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*types.PipelineState, error) {
	if r, ok := o.lookup(id); ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.GetStatus(ctx, id)
}

// List returns workflow summaries, newest first.
func (o *Orchestrator) List(ctx context.Context, opts *runstore.ListOptions) ([]types.Summary, error) {
	return o.store.ListStates(ctx, opts)
}

// CostReport builds the usage report of a workflow.
func (o *Orchestrator) CostReport(ctx context.Context, id string) (types.CostReport, error) {
	if r, ok := o.lookup(id); ok {
		return r.accountant.Report(), nil
	}
	st, err := o.GetStatus(ctx, id)
	if err != nil {
		return types.CostReport{}, err
	}
	return accounting.BuildReport(st.Metrics), nil
}

// Cancel requests cancellation. Running stages finish their current tool
// call; stages not yet started are not run.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	if r, ok := o.lookup(id); ok {
		if !r.state.MarkCancelled() {
			return fmt.Errorf("%w: %s", ErrAlreadyFinished, id)
		}
		r.requestCancel()
		o.logger.Info("workflow cancel requested", slog.String("workflow_id", id))
		return nil
	}

	// Not executing here: finalize a stale persisted run directly.
	p, err := o.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyFinished, id)
	}
	st := state.Restore(p)
	st.MarkCancelled()
	_ = st.AddError("", types.ErrorKindCancelled, "workflow cancelled")
	status := types.WorkflowStatusFailed
	if pl, err := validate(p.Graph, func(string) bool { return true }); err == nil {
		if res, ok := p.StageResults[pl.terminal]; ok && res.Success {
			status = types.WorkflowStatusPartial
		}
	}
	if err := st.Finalize(status); err != nil {
		return err
	}
	return o.store.SaveState(ctx, st.Snapshot())
}

// Recover resumes persisted runs left PENDING or RUNNING by a previous
// process. Committed stage results are kept; stages that were in flight
// run again. It returns the ids it resumed.
func (o *Orchestrator) Recover(ctx context.Context) ([]string, error) {
	var resumed []string
	for _, status := range []types.WorkflowStatus{types.WorkflowStatusPending, types.WorkflowStatusRunning} {
		summaries, err := o.store.ListStates(ctx, &runstore.ListOptions{Status: status})
		if err != nil {
			return resumed, fmt.Errorf("list %s workflows: %w", status, err)
		}
		for _, s := range summaries {
			if _, ok := o.lookup(s.WorkflowID); ok {
				continue
			}
			p, err := o.store.LoadState(ctx, s.WorkflowID)
			if err != nil {
				o.logger.Warn("skip unrecoverable workflow", slog.String("workflow_id", s.WorkflowID), slog.Any("error", err))
				continue
			}
			if err := o.resume(ctx, p); err != nil {
				o.logger.Warn("workflow not resumed", slog.String("workflow_id", s.WorkflowID), slog.Any("error", err))
				continue
			}
			resumed = append(resumed, s.WorkflowID)
		}
	}
	return resumed, nil
}

func (o *Orchestrator) resume(ctx context.Context, p *types.PipelineState) error {
	p.RunningStages = nil
	p.CurrentStage = ""
	st := state.Restore(p)

	pl, err := validate(p.Graph, o.registry.Exists)
	if err != nil {
		_ = st.AddError("", types.ErrorKindValidation, err.Error())
		_ = st.Finalize(types.WorkflowStatusFailed)
		_ = o.store.SaveState(ctx, st.Snapshot())
		return err
	}

	r := &run{
		id:         p.WorkflowID,
		plan:       pl,
		input:      p.Input,
		state:      st,
		accountant: accounting.Restore(p.Metrics),
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	if p.Cancelled {
		r.requestCancel()
	}
	o.logger.Info("resuming workflow", slog.String("workflow_id", p.WorkflowID), slog.Int("committed", len(p.StageResults)))
	o.start(r)
	return nil
}

// Shutdown stops accepting submissions and waits for running workflows.
// When ctx expires first, in-flight runs are interrupted and left in the
// store for Recover.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.runsMu.Lock()
	o.closing = true
	o.runsMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
		o.stop()
		<-done
		return ctx.Err()
	}
}

// persist saves the current snapshot. Store failures are logged; a run
// keeps executing on its in-memory state.
func (o *Orchestrator) persist(ctx context.Context, r *run) {
	if err := o.store.SaveState(context.WithoutCancel(ctx), r.state.Snapshot()); err != nil {
		metrics.StoreOperations.WithLabelValues("save", "error").Inc()
		o.logger.Warn("failed to persist workflow state", slog.String("workflow_id", r.id), slog.Any("error", err))
		return
	}
	metrics.StoreOperations.WithLabelValues("save", "success").Inc()
}

func (o *Orchestrator) spanAttrs(r *run) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("workflow.id", r.id),
		attribute.String("workflow.flow", r.plan.graph.Name),
		attribute.String("workflow.mode", string(r.input.Mode)),
	)
}
