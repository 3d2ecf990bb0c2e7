package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// memoryRun holds all state for a single workflow in memory.
type memoryRun struct {
	mu          sync.Mutex
	state       *types.PipelineState
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	closed      bool
	subscribers map[chan *types.Event]struct{}
}

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*memoryRun
	config *Config
}

// NewMemoryStore creates a new in-memory Store.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		runs:   make(map[string]*memoryRun),
		config: cfg,
	}
}

func (s *MemoryStore) run(id string) (*memoryRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

func (s *MemoryStore) SaveState(ctx context.Context, st *types.PipelineState) error {
	if st == nil || st.WorkflowID == "" {
		return fmt.Errorf("save state: workflow id is required")
	}

	s.mu.Lock()
	r, ok := s.runs[st.WorkflowID]
	if !ok {
		r = &memoryRun{
			nextSeq:     1,
			maxEvents:   s.config.EventMaxLen,
			subscribers: make(map[chan *types.Event]struct{}),
		}
		s.runs[st.WorkflowID] = r
	}
	s.mu.Unlock()

	r.mu.Lock()
	r.state = st.Clone()
	r.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadState(ctx context.Context, workflowID string) (*types.PipelineState, error) {
	r, ok := s.run(workflowID)
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), nil
}

func (s *MemoryStore) ListStates(ctx context.Context, opts *ListOptions) ([]types.Summary, error) {
	s.mu.RLock()
	runs := make([]*memoryRun, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	all := make([]types.Summary, 0, len(runs))
	for _, r := range runs {
		r.mu.Lock()
		all = append(all, r.state.Summarize())
		r.mu.Unlock()
	}
	return filterSummaries(all, opts), nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, workflowID string, input *types.EventInput) (*types.Event, error) {
	r, ok := s.run(workflowID)
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrStreamClosed
	}

	event := &types.Event{
		ID:         strconv.FormatInt(r.nextSeq, 10),
		WorkflowID: workflowID,
		Type:       input.Type,
		Stage:      input.Stage,
		Agent:      input.Agent,
		Timestamp:  time.Now().UTC(),
		Data:       dataJSON,
	}
	r.nextSeq++

	// Ring buffer
	if r.maxEvents > 0 && int64(len(r.events)) >= r.maxEvents {
		r.events = r.events[1:]
	}
	r.events = append(r.events, event)

	// Sends are non-blocking so holding the lock is fine.
	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber too slow, skip
		}
	}

	if input.Type == types.EventTypeStreamEnd {
		r.closed = true
		for ch := range r.subscribers {
			close(ch)
		}
		r.subscribers = make(map[chan *types.Event]struct{})
	}
	return event, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, workflowID, lastEventID string) ([]*types.Event, error) {
	r, ok := s.run(workflowID)
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*types.Event, 0, len(r.events))
	for _, evt := range r.events {
		seq, _ := strconv.ParseInt(evt.ID, 10, 64)
		if seq > lastSeq {
			result = append(result, evt)
		}
	}
	return result, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, workflowID string) (<-chan *types.Event, func(), error) {
	r, ok := s.run(workflowID)
	if !ok {
		return nil, nil, ErrWorkflowNotFound
	}

	ch := make(chan *types.Event, 100)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch, func() {}, nil
	}
	r.subscribers[ch] = struct{}{}

	cleanup := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
	}
	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	count := len(s.runs)
	s.mu.RUnlock()

	return map[string]any{
		"adapter":        "memory",
		"healthy":        true,
		"workflow_count": count,
		"max_events":     s.config.EventMaxLen,
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		r.mu.Lock()
		for ch := range r.subscribers {
			close(ch)
		}
		r.subscribers = make(map[chan *types.Event]struct{})
		r.mu.Unlock()
	}
	return nil
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
