package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

const (
	msgUpstreamFailure = "upstream failure"
	msgCancelled       = "workflow cancelled"
)

// outcome is what a stage goroutine reports to the scheduler.
type outcome struct {
	name   string
	result *types.StageResult
	kind   types.ErrorKind
}

// schedule tracks dependency resolution for one run. It is owned by the
// scheduling goroutine and never shared.
type schedule struct {
	plan     *plan
	waiting  map[string]int
	okDeps   map[string]int
	failDeps map[string]int
	started  map[string]bool
	resolved map[string]bool
	ready    []string
}

func newSchedule(p *plan) *schedule {
	s := &schedule{
		plan:     p,
		waiting:  make(map[string]int, len(p.specs)),
		okDeps:   make(map[string]int, len(p.specs)),
		failDeps: make(map[string]int, len(p.specs)),
		started:  make(map[string]bool, len(p.specs)),
		resolved: make(map[string]bool, len(p.specs)),
	}
	for _, name := range p.order {
		for _, d := range p.dependents[name] {
			s.waiting[d]++
		}
	}
	for _, name := range p.order {
		if s.waiting[name] == 0 {
			s.ready = append(s.ready, name)
		}
	}
	return s
}

// resolve records a stage outcome and returns dependents that can no longer
// run. Newly runnable dependents are appended to ready.
func (s *schedule) resolve(name string, success bool) (skipped []string) {
	s.resolved[name] = true
	s.ready = removeName(s.ready, name)
	for _, d := range s.plan.dependents[name] {
		if s.resolved[d] {
			continue
		}
		s.waiting[d]--
		if success {
			s.okDeps[d]++
		} else {
			s.failDeps[d]++
		}
		partial := s.plan.specs[d].AllowPartial
		switch {
		case !partial && s.failDeps[d] > 0:
			skipped = append(skipped, d)
		case s.waiting[d] > 0:
		case s.failDeps[d] == 0 || s.okDeps[d] > 0:
			s.ready = append(s.ready, d)
		default:
			skipped = append(skipped, d)
		}
	}
	return skipped
}

// pending returns stages neither started nor resolved, in topological order.
func (s *schedule) pending() []string {
	var out []string
	for _, name := range s.plan.order {
		if !s.started[name] && !s.resolved[name] {
			out = append(out, name)
		}
	}
	return out
}

func removeName(list []string, name string) []string {
	for i, v := range list {
		if v == name {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// execute drives one run to a terminal status.
func (o *Orchestrator) execute(ctx context.Context, r *run) {
	defer close(r.done)
	defer func() {
		o.runsMu.Lock()
		delete(o.runs, r.id)
		o.runsMu.Unlock()
	}()

	ctx, span := o.tracer.Start(ctx, "workflow "+r.plan.graph.Name, o.spanAttrs(r))
	defer span.End()

	log := o.logger.With(slog.String("workflow_id", r.id))
	startTime := time.Now()

	if err := r.state.Start(); err != nil {
		log.Error("workflow cannot start", slog.Any("error", err))
		return
	}
	o.persist(ctx, r)
	o.events.WorkflowStatus(ctx, r.id, types.WorkflowStatusRunning, "")
	metrics.WorkflowsActive.Inc()
	defer metrics.WorkflowsActive.Dec()
	log.Info("workflow started", slog.String("mode", string(r.input.Mode)))

	sched := newSchedule(r.plan)
	total := len(r.plan.order)

	// Results committed before a restart resolve their stages up front.
	snap := r.state.Snapshot()
	for _, name := range snap.StageOrder {
		sched.resolved[name] = true
	}
	for _, name := range snap.StageOrder {
		for _, skip := range sched.resolve(name, snap.StageResults[name].Success) {
			o.skip(ctx, r, sched, skip)
		}
	}

	limit := r.input.MaxConcurrentAgents
	if r.input.Mode == types.ModeSequential {
		limit = 1
	}

	completions := make(chan outcome, total)
	cancelCh := r.cancel
	ctxDone := ctx.Done()
	cancelled := r.state.Cancelled()
	interrupted := false
	inflight := 0

	for len(sched.resolved) < total || inflight > 0 {
		if !cancelled && r.state.Cancelled() {
			cancelled = true
			cancelCh = nil
			log.Info("workflow cancelled", slog.Int("in_flight", inflight))
		}
		if cancelled || interrupted {
			for _, name := range sched.pending() {
				if interrupted {
					sched.resolved[name] = true
					continue
				}
				o.commit(ctx, r, sched, outcome{name: name, kind: types.ErrorKindCancelled, result: &types.StageResult{
					AgentName:    r.plan.specs[name].Agent,
					Content:      types.PlaceholderContent(msgCancelled),
					ErrorMessage: msgCancelled,
				}})
			}
			if inflight == 0 {
				break
			}
		}

		var next string
		canLaunch := !cancelled && !interrupted && len(sched.ready) > 0 && (limit == 0 || inflight < limit)
		if canLaunch {
			sched.ready = o.rank(r, sched.ready)
			next = sched.ready[0]
			if o.gate == nil {
				o.launch(ctx, r, sched, next, completions)
				inflight++
				continue
			}
		}
		if !canLaunch && inflight == 0 {
			// Nothing runnable and nothing running: every remaining stage
			// was resolved by propagation.
			break
		}

		var gate chan struct{}
		if canLaunch {
			gate = o.gate
		}
		select {
		case gate <- struct{}{}:
			o.launch(ctx, r, sched, next, completions)
			inflight++
		case oc := <-completions:
			inflight--
			if !interrupted {
				o.commit(ctx, r, sched, oc)
			}
			// The slot frees only once the stage has left RunningStages.
			o.release()
		case <-cancelCh:
			// Handled at the top of the loop.
			cancelCh = nil
		case <-ctxDone:
			ctxDone = nil
			interrupted = true
		}
	}

	if interrupted {
		// Shutdown: leave the persisted state for Recover.
		o.persist(context.WithoutCancel(ctx), r)
		log.Warn("workflow interrupted by shutdown")
		return
	}
	o.finalize(ctx, r, cancelled, startTime)
	span.SetAttributes(attribute.String("workflow.status", string(r.state.Status())))
	if r.state.Status() == types.WorkflowStatusFailed {
		span.SetStatus(codes.Error, "workflow failed")
	}
}

// rank orders ready stages: ADAPTIVE by the rank expression, otherwise
// topological order.
func (o *Orchestrator) rank(r *run, ready []string) []string {
	if r.input.Mode == types.ModeAdaptive {
		return o.ranker.order(o.cfg.RankExpression, r.plan, ready)
	}
	pos := make(map[string]int, len(r.plan.order))
	for i, n := range r.plan.order {
		pos[n] = i
	}
	out := append([]string(nil), ready...)
	sort.SliceStable(out, func(i, j int) bool { return pos[out[i]] < pos[out[j]] })
	return out
}

// launch starts a stage goroutine. The caller holds a gate slot when the
// gate is enabled; the scheduler releases it after committing the outcome.
func (o *Orchestrator) launch(ctx context.Context, r *run, sched *schedule, name string, out chan<- outcome) {
	sched.started[name] = true
	sched.ready = removeName(sched.ready, name)
	if err := r.state.StageStarted(name); err != nil {
		o.logger.Warn("stage start not recorded", slog.String("workflow_id", r.id), slog.String("stage", name), slog.Any("error", err))
	}
	spec := r.plan.specs[name]
	o.events.StageStatus(ctx, r.id, name, spec.Agent, types.StageStatusEvent{Status: types.StageStatusRunning})

	go func() {
		out <- o.runStage(ctx, r, spec)
	}()
}

func (o *Orchestrator) release() {
	if o.gate != nil {
		<-o.gate
	}
}

// commit writes a stage outcome to the state and propagates it to
// dependents.
func (o *Orchestrator) commit(ctx context.Context, r *run, sched *schedule, oc outcome) {
	res := oc.result
	var failure *types.ErrorEntry
	if !res.Success {
		failure = &types.ErrorEntry{Stage: oc.name, Kind: oc.kind, Message: res.ErrorMessage}
	}
	if err := r.state.CommitStage(oc.name, res, r.accountant.Snapshot(), failure); err != nil {
		o.logger.Warn("stage result not committed", slog.String("workflow_id", r.id), slog.String("stage", oc.name), slog.Any("error", err))
	}

	status := types.StageStatusSucceeded
	label := "succeeded"
	switch {
	case res.Success:
	case oc.kind == types.ErrorKindUpstreamSkipped:
		status, label = types.StageStatusSkipped, "skipped"
	case oc.kind == types.ErrorKindCancelled:
		status, label = types.StageStatusCancelled, "cancelled"
	default:
		status, label = types.StageStatusFailed, "failed"
	}
	metrics.StagesTotal.WithLabelValues(res.AgentName, label).Inc()

	if failure != nil {
		o.events.Error(ctx, r.id, *failure)
	}
	o.events.StageStatus(ctx, r.id, oc.name, res.AgentName, types.StageStatusEvent{
		Status:     status,
		Confidence: res.Confidence,
		Duration:   res.ExecutionTime,
		Retries:    res.RetryCount,
		Error:      res.ErrorMessage,
	})
	o.persist(ctx, r)

	skipped := sched.resolve(oc.name, res.Success)
	o.events.Progress(ctx, r.id, len(sched.resolved), len(r.plan.order))
	if oc.kind == types.ErrorKindCancelled {
		// Dependents of a cancelled stage are cancelled, not skipped.
		return
	}
	for _, name := range skipped {
		o.skip(ctx, r, sched, name)
	}
}

// skip commits an UPSTREAM_SKIPPED result, which cascades to its own
// dependents.
func (o *Orchestrator) skip(ctx context.Context, r *run, sched *schedule, name string) {
	if sched.resolved[name] {
		return
	}
	o.commit(ctx, r, sched, outcome{name: name, kind: types.ErrorKindUpstreamSkipped, result: &types.StageResult{
		AgentName:    r.plan.specs[name].Agent,
		Content:      types.PlaceholderContent(msgUpstreamFailure),
		ErrorMessage: msgUpstreamFailure,
	}})
}

// finalize derives the terminal status from committed results.
func (o *Orchestrator) finalize(ctx context.Context, r *run, cancelled bool, startTime time.Time) {
	snap := r.state.Snapshot()
	allOK := len(snap.StageResults) == len(r.plan.order)
	for _, res := range snap.StageResults {
		if !res.Success {
			allOK = false
		}
	}
	status := types.WorkflowStatusFailed
	switch {
	case allOK && !cancelled:
		status = types.WorkflowStatusCompleted
	case snap.StageResults[r.plan.terminal] != nil && snap.StageResults[r.plan.terminal].Success:
		status = types.WorkflowStatusPartial
	}

	errMsg := ""
	if cancelled {
		errMsg = msgCancelled
		entry := types.ErrorEntry{Kind: types.ErrorKindCancelled, Message: msgCancelled}
		_ = r.state.AddError("", entry.Kind, entry.Message)
		o.events.Error(ctx, r.id, entry)
	} else if status == types.WorkflowStatusFailed {
		errMsg = fmt.Sprintf("terminal stage %s produced no output", r.plan.terminal)
	}

	_ = r.state.SetMetrics(r.accountant.Snapshot())
	if err := r.state.Finalize(status); err != nil {
		o.logger.Warn("workflow not finalized", slog.String("workflow_id", r.id), slog.Any("error", err))
	}
	o.persist(ctx, r)

	elapsed := time.Since(startTime).Seconds()
	metrics.WorkflowsTotal.WithLabelValues(string(status)).Inc()
	metrics.WorkflowDuration.WithLabelValues(string(status)).Observe(elapsed)

	o.events.WorkflowStatus(ctx, r.id, status, errMsg)
	o.events.End(ctx, r.id, status)

	final := r.state.Snapshot()
	o.logger.Info("workflow finished",
		slog.String("workflow_id", r.id),
		slog.String("status", string(status)),
		slog.Float64("duration_s", elapsed),
		slog.Int("errors", len(final.Errors)),
		slog.Float64("cost", final.Metrics.TotalCost),
	)
	if o.onFinish != nil {
		o.onFinish(context.WithoutCancel(ctx), final)
	}
}
