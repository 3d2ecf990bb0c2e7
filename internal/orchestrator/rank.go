package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultRankExpression orders ADAPTIVE ready stages: high priority first,
// cheap stages ahead of expensive ones at equal priority.
const DefaultRankExpression = "priority - estimated_cost"

// maxExpressionLength limits rank expression size.
const maxExpressionLength = 4096

// rankEnv is the environment a rank expression sees for one stage.
type rankEnv struct {
	Priority      int     `expr:"priority"`
	EstimatedCost float64 `expr:"estimated_cost"`
	Dependents    int     `expr:"dependents"`
	Depth         int     `expr:"depth"`
	Stage         string  `expr:"stage"`
	Agent         string  `expr:"agent"`
}

// Ranker scores ready stages with a compiled expression. Programs are
// compiled once per expression and cached.
type Ranker struct {
	mu       sync.RWMutex
	compiled map[string]*vm.Program
}

// NewRanker creates a ranker with an empty program cache.
func NewRanker() *Ranker {
	return &Ranker{compiled: make(map[string]*vm.Program)}
}

// Compile validates an expression and caches its program.
func (r *Ranker) Compile(expression string) (*vm.Program, error) {
	if expression == "" {
		expression = DefaultRankExpression
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("rank expression exceeds maximum length of %d characters", maxExpressionLength)
	}

	r.mu.RLock()
	prog, ok := r.compiled[expression]
	r.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.Env(rankEnv{}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compile rank expression %q: %w", expression, err)
	}
	r.mu.Lock()
	r.compiled[expression] = prog
	r.mu.Unlock()
	return prog, nil
}

// Score evaluates the expression for one stage.
func (r *Ranker) Score(expression string, env rankEnv) (float64, error) {
	prog, err := r.Compile(expression)
	if err != nil {
		return 0, err
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return 0, fmt.Errorf("evaluate rank expression: %w", err)
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("rank expression returned %T, expected number", out)
	}
	return f, nil
}

// order sorts names highest score first. Stages whose score cannot be
// evaluated rank last; ties keep topological order.
func (r *Ranker) order(expression string, p *plan, names []string) []string {
	pos := make(map[string]int, len(p.order))
	for i, n := range p.order {
		pos[n] = i
	}
	scores := make(map[string]float64, len(names))
	for _, n := range names {
		s := p.specs[n]
		score, err := r.Score(expression, rankEnv{
			Priority:      s.Priority,
			EstimatedCost: s.EstimatedCost,
			Dependents:    len(p.dependents[n]),
			Depth:         p.depth[n],
			Stage:         n,
			Agent:         s.Agent,
		})
		if err != nil {
			score = -1e18
		}
		scores[n] = score
	}
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return pos[out[i]] < pos[out[j]]
	})
	return out
}
