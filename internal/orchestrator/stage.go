package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/agent"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/critique"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func (o *Orchestrator) newTools(r *run, stage, agentName string) *stageTools {
	return &stageTools{
		workflowID: r.id,
		stage:      stage,
		agent:      agentName,
		trackCosts: r.input.TrackCosts,
		invoker:    o.invoker,
		wrapper:    o.wrapper,
		accountant: r.accountant,
		log:        o.events,
		cancel:     r.cancel,
	}
}

// runStage executes one stage and always resolves to an outcome. Agent
// errors, panics and timeouts become a failed result carrying the agent's
// fallback content.
func (o *Orchestrator) runStage(ctx context.Context, r *run, spec *types.StageSpec) outcome {
	metrics.StagesRunning.Inc()
	defer metrics.StagesRunning.Dec()

	ctx, span := o.tracer.Start(ctx, "stage "+spec.Name, trace.WithAttributes(
		attribute.String("workflow.id", r.id),
		attribute.String("stage.name", spec.Name),
		attribute.String("agent.name", spec.Agent),
	))
	defer span.End()

	log := o.logger.With(slog.String("workflow_id", r.id), slog.String("stage", spec.Name), slog.String("agent", spec.Agent))
	start := time.Now()

	timeout := spec.Timeout()
	if timeout <= 0 {
		timeout = o.cfg.StageTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tools := o.newTools(r, spec.Name, spec.Agent)
	upstream := make(map[string]*types.StageResult, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if res, ok := r.state.Result(dep); ok {
			upstream[dep] = res
		}
	}
	in := &agent.Input{
		WorkflowID: r.id,
		Stage:      spec.Name,
		Request:    r.input,
		Upstream:   upstream,
		Tools:      tools,
	}

	resp, err := o.produce(sctx, spec.Agent, in)
	if err == nil && (resp == nil || !resp.Success) {
		err = resilience.Errorf(types.ErrorKindAgentFailure, "agent reported failure")
	}

	res := &types.StageResult{AgentName: spec.Agent}
	var kind types.ErrorKind
	if err != nil {
		kind = resilience.KindOf(err)
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			kind = types.ErrorKindTimeout
			err = fmt.Errorf("stage %s timed out after %s: %w", spec.Name, timeout, err)
		}
		if kind == "" || kind == types.ErrorKindUnknown {
			kind = types.ErrorKindAgentFailure
		}
		fb := resilience.FallbackOf(err)
		if fb == nil {
			fb = resilience.Fallback(spec.Agent, err)
		}
		res.Content = fb.Content
		res.Confidence = fb.Confidence
		res.Reasoning = fb.Reasoning
		res.Suggestions = fb.Suggestions
		res.ErrorMessage = err.Error()

		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		log.Warn("stage failed", slog.String("kind", string(kind)), slog.Any("error", err))
	} else {
		clean, det := resilience.Sanitize(resp)
		if det.Flagged {
			metrics.HallucinationsFlagged.WithLabelValues(spec.Agent).Inc()
			tools.Think(types.ThoughtReflect, fmt.Sprintf("output flagged as possibly unreliable (score %.2f)", det.Score), clean.Confidence)
		}
		res.Success = true
		res.Content = clean.Content
		res.Confidence = clean.Confidence
		res.Reasoning = clean.Reasoning
		res.Suggestions = clean.Suggestions

		if spec.Critique && r.input.EnableCritique {
			o.critique(sctx, r, spec, res)
		}
	}

	res.RetryCount += tools.Retries()
	res.ExecutionTime = time.Since(start).Seconds()
	metrics.StageDuration.WithLabelValues(spec.Agent).Observe(res.ExecutionTime)
	log.Debug("stage finished", slog.Bool("success", res.Success), slog.Float64("duration_s", res.ExecutionTime))
	return outcome{name: spec.Name, result: res, kind: kind}
}

// produce runs the agent, turning a panic into an AGENT_FAILURE error.
func (o *Orchestrator) produce(ctx context.Context, name string, in *agent.Input) (resp *types.AgentResponse, err error) {
	a, err := o.registry.Get(name)
	if err != nil {
		return nil, resilience.Errorf(types.ErrorKindAgentFailure, "%v", err)
	}
	defer func() {
		if p := recover(); p != nil {
			resp, err = nil, resilience.Errorf(types.ErrorKindAgentFailure, "agent panicked: %v", p)
		}
	}()
	return a.Produce(ctx, in)
}

// critique runs the critique loop over a successful result in place.
func (o *Orchestrator) critique(ctx context.Context, r *run, spec *types.StageSpec, res *types.StageResult) {
	criticTools := o.newTools(r, spec.Name, agent.NameCritic)
	reviserTools := o.newTools(r, spec.Name, agent.NameReviser)
	critic := &agent.Critic{Tools: criticTools, BrandVoice: r.input.BrandVoice, Keywords: r.input.Keywords}
	reviser := &agent.Reviser{Tools: reviserTools, BrandVoice: r.input.BrandVoice}

	rec := critique.Run(ctx, critic, reviser, res.Content, critique.Config{
		Threshold:     r.input.QualityThreshold,
		MaxIterations: r.input.MaxIterations,
		OnIteration: func(iteration int, score float64, issues int) {
			o.events.Critique(ctx, r.id, spec.Name, types.CritiqueEvent{Iteration: iteration, Score: score, Issues: issues})
		},
	})
	o.events.Critique(ctx, r.id, spec.Name, types.CritiqueEvent{
		Iteration: rec.IterationCount,
		Score:     rec.FinalScore,
		Outcome:   string(rec.Outcome),
	})

	res.Critique = rec
	res.Content = rec.CurrentContent
	res.RetryCount += criticTools.Retries() + reviserTools.Retries()
	if rec.IterationCount > 0 {
		res.Suggestions = append(res.Suggestions, rec.FeedbackHistory...)
	}
}
