// Package metrics provides Prometheus metrics for the repurposing service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "mentatlab"
	subsystem = "repurpose"
)

var (
	// WorkflowsTotal counts finalized workflows by status.
	WorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflows_total",
			Help:      "Total number of workflows by final status",
		},
		[]string{"status"}, // COMPLETED, PARTIAL, FAILED
	)

	// WorkflowsActive tracks workflows currently executing.
	WorkflowsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflows_active",
			Help:      "Number of workflows currently running",
		},
	)

	// WorkflowDuration tracks end-to-end workflow duration.
	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	// StagesTotal counts committed stage results.
	StagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stages_total",
			Help:      "Total number of stages by agent and outcome",
		},
		[]string{"agent", "outcome"}, // succeeded, failed, skipped, cancelled
	)

	// StageDuration tracks agent execution time per stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	// StagesRunning tracks stages holding an admission slot.
	StagesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stages_running",
			Help:      "Number of stages currently running across all workflows",
		},
	)

	// ToolCalls counts tool invocations by tool and result.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "result"}, // result: success or an error kind
	)

	// ToolDuration tracks single-attempt tool latency.
	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// ToolRetries counts retries scheduled by the resilience wrapper.
	ToolRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_retries_total",
			Help:      "Total number of retried tool attempts",
		},
		[]string{"dependency", "kind"},
	)

	// Fallbacks counts fallback responses handed to agents.
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallbacks_total",
			Help:      "Total number of fallback responses",
		},
		[]string{"dependency", "kind"},
	)

	// BreakerState exposes breaker state per dependency (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by dependency",
		},
		[]string{"dependency"},
	)

	// CritiqueIterations tracks critique rounds per artifact.
	CritiqueIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "critique_iterations",
			Help:      "Number of critique rounds per artifact",
			Buckets:   []float64{1, 2, 3, 4, 5, 10},
		},
		[]string{"outcome"},
	)

	// TokensTotal counts billable tokens by agent.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_total",
			Help:      "Total number of billable tokens recorded",
		},
		[]string{"agent"},
	)

	// CostTotal accumulates recorded cost by agent.
	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cost_total",
			Help:      "Total recorded cost in currency units",
		},
		[]string{"agent"},
	)

	// HallucinationsFlagged counts sanitized agent responses.
	HallucinationsFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hallucinations_flagged_total",
			Help:      "Total number of agent responses flagged as hallucinated",
		},
		[]string{"agent"},
	)

	// EventsTotal counts observability events emitted by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Total number of events emitted",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StreamConnections tracks open SSE and websocket subscribers.
	StreamConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stream_connections",
			Help:      "Number of open event stream connections",
		},
		[]string{"transport"}, // sse, websocket
	)

	// StoreOperations counts runstore operations.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"operation", "result"}, // operation: save, load, append; result: success, error
	)

	// ExportsTotal counts artifact exports.
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "exports_total",
			Help:      "Total number of workflow exports",
		},
		[]string{"result"},
	)
)

// BreakerStateValue maps a breaker state name to its gauge value.
func BreakerStateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 2
	case "HALF_OPEN":
		return 1
	}
	return 0
}
