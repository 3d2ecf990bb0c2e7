package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var (
	// ErrDuplicateAgent is returned by RegisterAgent for a name already in use.
	ErrDuplicateAgent = errors.New("duplicate agent")

	// ErrWorkflowNotFound is returned for unknown workflow ids.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrAlreadyFinished is returned when cancelling a run that has ended.
	ErrAlreadyFinished = errors.New("workflow already finished")

	// ErrUnknownFlow is returned when submitting a flow name nobody registered.
	ErrUnknownFlow = errors.New("unknown flow")
)

// GraphProblem names the kind of defect found in a stage graph.
type GraphProblem string

const (
	ProblemEmpty          GraphProblem = "empty_graph"
	ProblemDuplicateStage GraphProblem = "duplicate_stage"
	ProblemUnknownDep     GraphProblem = "unknown_dependency"
	ProblemUnknownAgent   GraphProblem = "unknown_agent"
	ProblemUnknownTerm    GraphProblem = "unknown_terminal"
	ProblemCycle          GraphProblem = "cycle"
)

// InvalidGraphError reports why a graph was rejected before any state was created.
type InvalidGraphError struct {
	Problem GraphProblem
	Stage   string
	Detail  string
}

func (e *InvalidGraphError) Error() string {
	msg := "invalid stage graph: " + string(e.Problem)
	if e.Stage != "" {
		msg += " at " + e.Stage
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap lets callers match on errors.Is(err, ErrInvalidGraph).
func (e *InvalidGraphError) Unwrap() error { return ErrInvalidGraph }

// ErrInvalidGraph is the sentinel wrapped by every InvalidGraphError.
var ErrInvalidGraph = errors.New("invalid stage graph")

func invalid(p GraphProblem, stage, format string, args ...any) *InvalidGraphError {
	return &InvalidGraphError{Problem: p, Stage: stage, Detail: fmt.Sprintf(format, args...)}
}

// plan is the validated, indexed form of a StageGraph.
type plan struct {
	graph      types.StageGraph
	specs      map[string]*types.StageSpec
	dependents map[string][]string
	// order is a topological order with declaration order breaking ties.
	order []string
	// depth is the longest dependency chain below each stage.
	depth    map[string]int
	terminal string
}

// validate checks g and builds its plan. hasAgent reports whether an agent
// name is registered.
func validate(g types.StageGraph, hasAgent func(string) bool) (*plan, error) {
	if len(g.Stages) == 0 {
		return nil, invalid(ProblemEmpty, "", "graph has no stages")
	}

	// The plan owns its stages; later edits to g do not reach a running workflow.
	g.Stages = append([]types.StageSpec(nil), g.Stages...)
	for i := range g.Stages {
		g.Stages[i].DependsOn = append([]string(nil), g.Stages[i].DependsOn...)
	}
	p := &plan{
		graph:      g,
		specs:      make(map[string]*types.StageSpec, len(g.Stages)),
		dependents: make(map[string][]string, len(g.Stages)),
		depth:      make(map[string]int, len(g.Stages)),
	}
	index := make(map[string]int, len(g.Stages))
	for i := range g.Stages {
		s := &p.graph.Stages[i]
		if s.Name == "" {
			return nil, invalid(ProblemEmpty, "", "stage %d has no name", i)
		}
		if _, dup := p.specs[s.Name]; dup {
			return nil, invalid(ProblemDuplicateStage, s.Name, "stage declared twice")
		}
		if s.Agent == "" || !hasAgent(s.Agent) {
			return nil, invalid(ProblemUnknownAgent, s.Name, "agent %q is not registered", s.Agent)
		}
		p.specs[s.Name] = s
		index[s.Name] = i
	}

	indegree := make(map[string]int, len(p.specs))
	for _, s := range p.graph.Stages {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if _, ok := p.specs[dep]; !ok {
				return nil, invalid(ProblemUnknownDep, s.Name, "depends on undeclared stage %q", dep)
			}
			if dep == s.Name {
				return nil, invalid(ProblemCycle, s.Name, "stage depends on itself")
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			p.dependents[dep] = append(p.dependents[dep], s.Name)
			indegree[s.Name]++
		}
	}

	// Kahn's algorithm; the ready set is kept in declaration order.
	var ready []string
	for _, s := range p.graph.Stages {
		if indegree[s.Name] == 0 {
			ready = append(ready, s.Name)
		}
	}
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		p.order = append(p.order, name)
		for _, d := range p.dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
				sort.SliceStable(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
			}
		}
	}
	if len(p.order) != len(p.specs) {
		var stuck []string
		for _, s := range p.graph.Stages {
			if indegree[s.Name] > 0 {
				stuck = append(stuck, s.Name)
			}
		}
		return nil, invalid(ProblemCycle, stuck[0], "stages %s form a cycle", strings.Join(stuck, ", "))
	}

	for i := len(p.order) - 1; i >= 0; i-- {
		name := p.order[i]
		for _, d := range p.dependents[name] {
			if v := p.depth[d] + 1; v > p.depth[name] {
				p.depth[name] = v
			}
		}
	}

	term, err := terminalOf(p)
	if err != nil {
		return nil, err
	}
	p.terminal = term
	return p, nil
}

// terminalOf picks the aggregation stage: the declared one, else the single
// sink, else the last sink in topological order.
func terminalOf(p *plan) (string, error) {
	if p.graph.Terminal != "" {
		if _, ok := p.specs[p.graph.Terminal]; !ok {
			return "", invalid(ProblemUnknownTerm, p.graph.Terminal, "terminal stage is not declared")
		}
		return p.graph.Terminal, nil
	}
	var sink string
	for _, name := range p.order {
		if len(p.dependents[name]) == 0 {
			sink = name
		}
	}
	return sink, nil
}
