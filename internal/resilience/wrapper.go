package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Operation performs one attempt. It reports failure through the response
// envelope rather than an error.
type Operation func(ctx context.Context, attempt int) *types.ToolResponse

// Call describes one resilient invocation.
type Call struct {
	// Dependency selects the circuit breaker, e.g. "llm" or "transcription".
	Dependency string
	Agent      string
	Request    *types.ToolRequest

	// Policy overrides the wrapper default when set.
	Policy *RetryPolicy

	// Cancel is closed when the owning workflow is cancelled. It is checked
	// before each attempt and during backoff waits.
	Cancel <-chan struct{}
}

// Wrapper applies retry, circuit breaking and fallback to tool calls.
type Wrapper struct {
	breakers *Breakers
	policy   RetryPolicy
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration, cancel <-chan struct{}) error
}

// NewWrapper creates a wrapper over a breaker registry.
func NewWrapper(breakers *Breakers, policy RetryPolicy, logger *slog.Logger) *Wrapper {
	if breakers == nil {
		breakers = NewBreakers(DefaultBreakerConfig(), nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{breakers: breakers, policy: policy.withDefaults(), logger: logger, sleep: wait}
}

// Breakers exposes the breaker registry for health reporting.
func (w *Wrapper) Breakers() *Breakers { return w.breakers }

// Policy returns the default retry policy.
func (w *Wrapper) Policy() RetryPolicy { return w.policy }

// Call runs op until it succeeds, fails with a non-retryable kind, runs out
// of attempts, or the breaker refuses it. Every failure resolves to a
// response carrying a fallback; raw errors are never returned.
func (w *Wrapper) Call(ctx context.Context, c Call, op Operation) *types.ToolResponse {
	policy := w.policy
	if c.Policy != nil {
		policy = c.Policy.withDefaults()
	}
	breaker := w.breakers.Get(c.Dependency)
	log := w.logger.With("dependency", c.Dependency, "agent", c.Agent)
	if c.Request != nil {
		log = log.With("tool", c.Request.ToolName, "request_id", c.Request.RequestID)
	}

	var last *types.ToolResponse
	attempts := 0
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if isClosed(c.Cancel) {
			return w.fail(c, last, types.ErrorKindCancelled, ErrCancelled, attempts, false)
		}
		if err := ctx.Err(); err != nil {
			return w.fail(c, last, KindOf(err), err, attempts, attempts > 0)
		}
		if err := breaker.Allow(); err != nil {
			log.Warn("circuit open, using fallback", "attempt", attempt)
			return w.fail(c, last, types.ErrorKindCircuitOpen, err, attempts, true)
		}

		attempts++
		resp := op(ctx, attempt)
		if resp == nil {
			resp = &types.ToolResponse{ErrorKind: types.ErrorKindUnknown, ErrorMessage: "no response"}
		}
		if resp.Success {
			breaker.OnSuccess()
			resp.Attempts = attempts
			return resp
		}
		last = resp

		kind := resp.ErrorKind
		if kind == "" {
			kind = types.ErrorKindUnknown
		}
		switch kind {
		case types.ErrorKindValidation, types.ErrorKindCancelled:
			breaker.Release()
		default:
			breaker.OnFailure()
		}

		if !policy.Retryable(kind) {
			return w.fail(c, last, kind, errors.New(resp.ErrorMessage), attempts, false)
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		metrics.ToolRetries.WithLabelValues(c.Dependency, string(kind)).Inc()
		log.Info("retrying after failure", "attempt", attempt, "kind", kind, "delay", delay)
		if err := w.sleep(ctx, delay, c.Cancel); err != nil {
			return w.fail(c, last, KindOf(err), err, attempts, false)
		}
	}

	log.Warn("retries exhausted, using fallback", "attempts", attempts)
	return w.fail(c, last, "", nil, attempts, true)
}

// fail builds the failed envelope. When last is set its kind and message
// win over the interruption that ended the loop, except for cancellation.
func (w *Wrapper) fail(c Call, last *types.ToolResponse, kind types.ErrorKind, err error, attempts int, exhausted bool) *types.ToolResponse {
	out := &types.ToolResponse{Attempts: attempts, Exhausted: exhausted}
	if c.Request != nil {
		out.ToolName = c.Request.ToolName
		out.RequestID = c.Request.RequestID
	}
	if last != nil {
		out.ErrorKind = last.ErrorKind
		out.ErrorMessage = last.ErrorMessage
		out.ExecutionTime = last.ExecutionTime
	}
	if out.ErrorKind == "" || kind == types.ErrorKindCancelled {
		out.ErrorKind = kind
		if err != nil {
			out.ErrorMessage = err.Error()
		}
	}
	if out.ErrorKind == "" {
		out.ErrorKind = types.ErrorKindExhausted
		out.ErrorMessage = "retries exhausted"
	}
	if out.ErrorMessage == "" && err != nil {
		out.ErrorMessage = err.Error()
	}

	cause := err
	if cause == nil {
		cause = errors.New(out.ErrorMessage)
	}
	out.Fallback = Fallback(c.Agent, cause)
	metrics.Fallbacks.WithLabelValues(c.Dependency, string(out.ErrorKind)).Inc()
	return out
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
