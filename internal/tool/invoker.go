// Package tool provides a uniform, validated and time-bounded interface to
// external capabilities.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// DefaultTimeout applies to tools that do not declare one.
const DefaultTimeout = 30 * time.Second

var (
	// ErrToolExists is returned when registering a duplicate tool name.
	ErrToolExists = errors.New("tool already registered")
	// ErrUnknownTool is reported for calls to unregistered tools.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrNotPermitted is reported when the calling agent may not use the tool.
	ErrNotPermitted = errors.New("agent not permitted to use tool")
)

// Result is what a handler produces on success.
type Result struct {
	Value    any
	Tokens   int
	Cost     float64
	Billable bool
}

// Handler executes a tool. params have already been schema-validated.
type Handler func(ctx context.Context, params map[string]any) (*Result, error)

// Definition declares a tool.
type Definition struct {
	Name        string
	Description string

	// Dependency names the circuit breaker guarding this tool.
	Dependency string

	// Schema is a JSON schema for the parameters. Empty accepts any object.
	Schema string

	// Permissions lists agents allowed to call the tool; "all" allows everyone.
	Permissions []string

	Timeout time.Duration

	// RateLimit is calls per second (0 = unlimited) with burst Burst.
	RateLimit float64
	Burst     int

	Handler Handler
}

type entry struct {
	def     Definition
	schema  *jsonschema.Schema
	limiter *rate.Limiter
}

// Invoker dispatches tool requests.
type Invoker struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger *slog.Logger
	tracer trace.Tracer
}

// NewInvoker creates an empty invoker.
func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		tools:  make(map[string]*entry),
		logger: logger,
		tracer: otel.Tracer("repurpose/tool"),
	}
}

// Register adds a tool, compiling its parameter schema.
func (i *Invoker) Register(def Definition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("tool definition requires a name and a handler")
	}
	if def.Timeout <= 0 {
		def.Timeout = DefaultTimeout
	}
	if def.Dependency == "" {
		def.Dependency = def.Name
	}
	if len(def.Permissions) == 0 {
		def.Permissions = []string{"all"}
	}

	e := &entry{def: def}
	if def.Schema != "" {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		url := def.Name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(def.Schema)); err != nil {
			return fmt.Errorf("add schema for %s: %w", def.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", def.Name, err)
		}
		e.schema = schema
	}
	if def.RateLimit > 0 {
		burst := def.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(def.RateLimit), burst)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, def.Name)
	}
	i.tools[def.Name] = e
	return nil
}

// Dependency returns the breaker key of a tool.
func (i *Invoker) Dependency(name string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.tools[name]
	if !ok {
		return "", false
	}
	return e.def.Dependency, true
}

// List describes registered tools sorted by name.
func (i *Invoker) List() []types.ToolInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]types.ToolInfo, 0, len(i.tools))
	for _, e := range i.tools {
		out = append(out, types.ToolInfo{
			Name:        e.def.Name,
			Description: e.def.Description,
			Dependency:  e.def.Dependency,
			Permissions: append([]string(nil), e.def.Permissions...),
			Timeout:     e.def.Timeout,
			Schema:      e.def.Schema,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

type outcome struct {
	res *Result
	err error
}

// Invoke runs one attempt of req. Failures are reported in the envelope;
// the request id is always echoed.
func (i *Invoker) Invoke(ctx context.Context, req *types.ToolRequest) *types.ToolResponse {
	start := time.Now()
	resp := &types.ToolResponse{ToolName: req.ToolName, RequestID: req.RequestID}

	ctx, span := i.tracer.Start(ctx, "tool "+req.ToolName, trace.WithAttributes(
		attribute.String("tool.name", req.ToolName),
		attribute.String("tool.request_id", req.RequestID),
		attribute.String("agent.name", req.AgentName),
	))
	defer span.End()

	finish := func(kind types.ErrorKind, err error) *types.ToolResponse {
		resp.ExecutionTime = time.Since(start).Seconds()
		result := "success"
		if kind != "" {
			resp.Success = false
			resp.ErrorKind = kind
			resp.ErrorMessage = err.Error()
			result = string(kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(kind))
			i.logger.Debug("tool call failed", "tool", req.ToolName, "request_id", req.RequestID, "kind", kind, "error", err)
		}
		metrics.ToolCalls.WithLabelValues(req.ToolName, result).Inc()
		metrics.ToolDuration.WithLabelValues(req.ToolName).Observe(resp.ExecutionTime)
		return resp
	}

	i.mu.RLock()
	e, ok := i.tools[req.ToolName]
	i.mu.RUnlock()
	if !ok {
		return finish(types.ErrorKindValidation, fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolName))
	}
	if !permitted(e.def.Permissions, req.AgentName) {
		return finish(types.ErrorKindValidation, fmt.Errorf("%w: %s -> %s", ErrNotPermitted, req.AgentName, req.ToolName))
	}

	params, err := normalize(req.Parameters)
	if err != nil {
		return finish(types.ErrorKindValidation, fmt.Errorf("invalid parameters: %w", err))
	}
	if e.schema != nil {
		if err := e.schema.Validate(params); err != nil {
			return finish(types.ErrorKindValidation, fmt.Errorf("invalid parameters: %w", err))
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return finish(types.ErrorKindRateLimit, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	timeout := e.def.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: resilience.Errorf(types.ErrorKindToolFailure, "tool panicked: %v", r)}
			}
		}()
		res, err := e.def.Handler(cctx, params)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			kind := resilience.KindOf(o.err)
			if kind == types.ErrorKindUnknown {
				kind = types.ErrorKindToolFailure
			}
			return finish(kind, o.err)
		}
		if o.res == nil {
			o.res = &Result{}
		}
		resp.Success = true
		resp.Result = o.res.Value
		resp.Usage = types.ToolUsage{Tokens: o.res.Tokens, Cost: o.res.Cost, Billable: o.res.Billable}
		span.SetAttributes(attribute.Int("tool.tokens", o.res.Tokens))
		return finish("", nil)
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return finish(types.ErrorKindTimeout, fmt.Errorf("%s timed out after %s", req.ToolName, timeout))
		}
		return finish(types.ErrorKindCancelled, cctx.Err())
	}
}

func permitted(perms []string, agent string) bool {
	for _, p := range perms {
		if p == "all" || p == agent {
			return true
		}
	}
	return false
}

// normalize round-trips params through JSON so the schema validator and
// handlers see plain decoded values.
func normalize(params map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
