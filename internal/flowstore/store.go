// Package flowstore persists named stage graphs that workflows can be
// submitted against instead of the built-in flow.
package flowstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Common errors returned by FlowStore implementations.
var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrFlowExists   = errors.New("flow already exists")
	ErrInvalidFlow  = errors.New("invalid flow")
)

var flowIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// Flow is a saved stage graph.
type Flow struct {
	ID          string           `json:"id"`
	Description string           `json:"description,omitempty"`
	Version     int              `json:"version"`
	Graph       types.StageGraph `json:"graph"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CreatedBy   string           `json:"created_by,omitempty"`
}

// CreateFlowRequest is the input for saving a new flow. The ID doubles as
// the flow name used at submit time.
type CreateFlowRequest struct {
	ID          string           `json:"id"`
	Description string           `json:"description,omitempty"`
	Graph       types.StageGraph `json:"graph"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
}

// UpdateFlowRequest replaces the set fields of an existing flow.
type UpdateFlowRequest struct {
	Description *string           `json:"description,omitempty"`
	Graph       *types.StageGraph `json:"graph,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit     int
	Offset    int
	CreatedBy string
}

// FlowStore defines the interface for flow persistence.
// Implementations must be safe for concurrent use.
type FlowStore interface {
	// Create saves a new flow. Returns ErrFlowExists if the ID is taken.
	Create(ctx context.Context, req *CreateFlowRequest) (*Flow, error)

	// Get retrieves a flow by ID. Returns ErrFlowNotFound if not found.
	Get(ctx context.Context, id string) (*Flow, error)

	// Update modifies an existing flow and bumps its version.
	Update(ctx context.Context, id string, req *UpdateFlowRequest) (*Flow, error)

	// Delete removes a flow. Returns ErrFlowNotFound if not found.
	Delete(ctx context.Context, id string) error

	// List returns flows ordered by ID.
	List(ctx context.Context, opts *ListOptions) ([]*Flow, error)

	// Lookup returns the stage graph saved under name.
	Lookup(ctx context.Context, name string) (types.StageGraph, error)

	// Close releases any resources.
	Close() error
}

// Validate checks the request shape. Graph semantics (cycles, unknown
// agents) are checked when a workflow is submitted.
func (r *CreateFlowRequest) Validate() error {
	if !flowIDPattern.MatchString(r.ID) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalidFlow, r.ID, flowIDPattern)
	}
	return validateGraph(&r.Graph)
}

func validateGraph(g *types.StageGraph) error {
	if len(g.Stages) == 0 {
		return fmt.Errorf("%w: graph has no stages", ErrInvalidFlow)
	}
	for i, s := range g.Stages {
		if s.Name == "" || s.Agent == "" {
			return fmt.Errorf("%w: stage %d needs a name and an agent", ErrInvalidFlow, i)
		}
	}
	return nil
}

func newFlow(req *CreateFlowRequest) *Flow {
	now := time.Now().UTC()
	f := &Flow{
		ID:          req.ID,
		Description: req.Description,
		Version:     1,
		Graph:       req.Graph,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   req.CreatedBy,
	}
	f.Graph.Name = req.ID
	return f
}

func applyUpdate(f *Flow, req *UpdateFlowRequest) error {
	if req.Graph != nil {
		if err := validateGraph(req.Graph); err != nil {
			return err
		}
		f.Graph = *req.Graph
		f.Graph.Name = f.ID
	}
	if req.Description != nil {
		f.Description = *req.Description
	}
	if req.Metadata != nil {
		f.Metadata = req.Metadata
	}
	f.Version++
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// page filters by creator, sorts by ID and applies offset and limit.
func page(flows []*Flow, opts *ListOptions) []*Flow {
	if opts == nil {
		opts = &ListOptions{}
	}
	out := flows[:0]
	for _, f := range flows {
		if opts.CreatedBy != "" && f.CreatedBy != opts.CreatedBy {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*Flow{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

func cloneFlow(f *Flow) *Flow {
	c := *f
	c.Graph.Stages = make([]types.StageSpec, len(f.Graph.Stages))
	for i, s := range f.Graph.Stages {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		c.Graph.Stages[i] = s
	}
	return &c
}
