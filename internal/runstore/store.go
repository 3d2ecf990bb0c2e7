// Package runstore provides workflow state persistence and event streaming.
package runstore

import (
	"context"
	"errors"
	"sort"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrStreamClosed     = errors.New("event stream closed")
)

// Store defines the interface for workflow persistence and event streaming.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveState upserts the full state of a workflow.
	SaveState(ctx context.Context, st *types.PipelineState) error
	// LoadState returns the last saved state. Returns ErrWorkflowNotFound if absent.
	LoadState(ctx context.Context, workflowID string) (*types.PipelineState, error)
	// ListStates returns summaries, newest first.
	ListStates(ctx context.Context, opts *ListOptions) ([]types.Summary, error)

	// AppendEvent adds an event to the workflow's stream and returns it with
	// its sequence ID. Appending a stream_end event closes the stream.
	AppendEvent(ctx context.Context, workflowID string, input *types.EventInput) (*types.Event, error)

	// GetEventsSince returns events after the given event ID (exclusive).
	// If lastEventID is empty, returns all retained events.
	GetEventsSince(ctx context.Context, workflowID, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel that receives new events for the workflow.
	// The channel is closed after the stream_end event is delivered. The
	// cleanup function must be called when done.
	Subscribe(ctx context.Context, workflowID string) (<-chan *types.Event, func(), error)

	// AdapterInfo returns diagnostics.
	AdapterInfo(ctx context.Context) (map[string]any, error)

	Close() error
}

// ListOptions configures list queries.
type ListOptions struct {
	// Status filters by workflow status.
	Status types.WorkflowStatus

	// Limit is the maximum number of summaries to return (0 = no limit).
	Limit int
}

// Config holds configuration shared by Store implementations.
type Config struct {
	// Maximum number of events to keep per workflow (ring buffer)
	EventMaxLen int64

	// TTL for workflows in seconds (0 = no expiry)
	TTLSeconds int64
}

// DefaultConfig returns sensible defaults for Store configuration.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTLSeconds:  7 * 24 * 60 * 60, // 7 days
	}
}

// filterSummaries applies opts to summaries sorted newest first.
func filterSummaries(all []types.Summary, opts *ListOptions) []types.Summary {
	if opts == nil {
		opts = &ListOptions{}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].WorkflowID < all[j].WorkflowID
	})
	out := all[:0]
	for _, s := range all {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, s)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}
