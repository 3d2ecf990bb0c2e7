package flowstore

import (
	"context"
	"sync"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// MemoryStore implements FlowStore using in-memory storage.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string]*Flow
}

// NewMemoryStore creates a new in-memory flow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows: make(map[string]*Flow),
	}
}

// Create saves a new flow.
func (s *MemoryStore) Create(ctx context.Context, req *CreateFlowRequest) (*Flow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[req.ID]; exists {
		return nil, ErrFlowExists
	}
	flow := newFlow(req)
	s.flows[flow.ID] = flow
	return cloneFlow(flow), nil
}

// Get retrieves a flow by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return cloneFlow(flow), nil
}

// Update modifies an existing flow.
func (s *MemoryStore) Update(ctx context.Context, id string, req *UpdateFlowRequest) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	next := cloneFlow(flow)
	if err := applyUpdate(next, req); err != nil {
		return nil, err
	}
	s.flows[id] = next
	return cloneFlow(next), nil
}

// Delete removes a flow.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return ErrFlowNotFound
	}
	delete(s.flows, id)
	return nil
}

// List returns all flows matching the options.
func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*Flow, error) {
	s.mu.RLock()
	flows := make([]*Flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, cloneFlow(f))
	}
	s.mu.RUnlock()
	return page(flows, opts), nil
}

// Lookup returns the graph saved under name.
func (s *MemoryStore) Lookup(ctx context.Context, name string) (types.StageGraph, error) {
	f, err := s.Get(ctx, name)
	if err != nil {
		return types.StageGraph{}, err
	}
	return f.Graph, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
