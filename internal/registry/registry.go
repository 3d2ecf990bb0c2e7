// Package registry provides agent registration and discovery.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/agent"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Common errors returned by the registry.
var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentExists   = errors.New("agent already exists")
)

// Entry is one registered agent.
type Entry struct {
	Info         types.AgentInfo `json:"info"`
	RegisteredAt time.Time       `json:"registered_at"`

	agent agent.Agent
}

// Agent returns the registered implementation.
func (e *Entry) Agent() agent.Agent { return e.agent }

// ListOptions configures list queries.
type ListOptions struct {
	// Tools filters agents that declare ALL specified tools.
	Tools []string

	// Produces filters agents by output kind.
	Produces types.ContentKind
}

// Registry maps agent names to implementations. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*Entry)}
}

// NewWithBuiltins creates a registry holding every built-in agent.
func NewWithBuiltins() *Registry {
	r := New()
	for name, a := range agent.Builtins() {
		if err := r.Register(name, a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds an agent under name. Returns ErrAgentExists if the name is taken.
func (r *Registry) Register(name string, a agent.Agent) error {
	if name == "" {
		return errors.New("agent name is required")
	}
	if a == nil {
		return fmt.Errorf("agent %q: implementation is nil", name)
	}

	info := types.AgentInfo{Name: name}
	if d, ok := a.(agent.Describer); ok {
		info = d.Info()
		info.Name = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, name)
	}
	r.agents[name] = &Entry{Info: info, RegisteredAt: time.Now().UTC(), agent: a}
	return nil
}

// Unregister removes an agent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; !ok {
		return ErrAgentNotFound
	}
	delete(r.agents, name)
	return nil
}

// Get returns the implementation registered under name.
func (r *Registry) Get(name string) (agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return e.agent, nil
}

// Exists checks if an agent with the given name exists.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// List returns the registered agents matching opts, sorted by name.
func (r *Registry) List(opts *ListOptions) []types.AgentInfo {
	if opts == nil {
		opts = &ListOptions{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AgentInfo, 0, len(r.agents))
	for _, e := range r.agents {
		if opts.Produces != "" && e.Info.Produces != opts.Produces {
			continue
		}
		if len(opts.Tools) > 0 && !hasAll(e.Info.Tools, opts.Tools) {
			continue
		}
		out = append(out, e.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func hasAll(have, required []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, req := range required {
		if !set[req] {
			return false
		}
	}
	return true
}
