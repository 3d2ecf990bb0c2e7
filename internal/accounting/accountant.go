// Package accounting records billable tool usage per workflow.
package accounting

import (
	"sort"
	"sync"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Accountant accumulates usage for one workflow. Each request_id is
// counted at most once, so retried calls sharing an id never double-bill.
type Accountant struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	metrics types.UsageMetrics
}

// New creates an empty accountant.
func New() *Accountant {
	return &Accountant{
		seen:    make(map[string]struct{}),
		metrics: types.UsageMetrics{PerAgentBreakdown: make(map[string]types.AgentUsage)},
	}
}

// Restore creates an accountant seeded with persisted totals. Request ids
// recorded before the snapshot are not known to it.
func Restore(m types.UsageMetrics) *Accountant {
	a := New()
	a.metrics = m.Clone()
	return a
}

// Record adds one call's usage. It returns false without changing anything
// when requestID was already recorded or is empty.
func (a *Accountant) Record(agent, requestID string, tokens int, cost float64) bool {
	if requestID == "" {
		return false
	}
	a.mu.Lock()
	if _, dup := a.seen[requestID]; dup {
		a.mu.Unlock()
		return false
	}
	a.seen[requestID] = struct{}{}

	u := a.metrics.PerAgentBreakdown[agent]
	u.Calls++
	u.Tokens += tokens
	u.Cost += cost
	a.metrics.PerAgentBreakdown[agent] = u
	a.metrics.TotalCalls++
	a.metrics.TotalTokens += tokens
	a.metrics.TotalCost += cost
	a.mu.Unlock()

	metrics.TokensTotal.WithLabelValues(agent).Add(float64(tokens))
	metrics.CostTotal.WithLabelValues(agent).Add(cost)
	return true
}

// Seen reports whether requestID has been recorded.
func (a *Accountant) Seen(requestID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.seen[requestID]
	return ok
}

// Snapshot returns a consistent copy of the current totals.
func (a *Accountant) Snapshot() types.UsageMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics.Clone()
}

// Report derives per-agent averages and cost shares, sorted by cost
// descending then agent name.
func (a *Accountant) Report() types.CostReport {
	return BuildReport(a.Snapshot())
}

// BuildReport derives a cost report from persisted metrics.
func BuildReport(m types.UsageMetrics) types.CostReport {
	r := types.CostReport{
		TotalCalls:  m.TotalCalls,
		TotalTokens: m.TotalTokens,
		TotalCost:   m.TotalCost,
		Agents:      make([]types.AgentCostReport, 0, len(m.PerAgentBreakdown)),
	}
	for name, u := range m.PerAgentBreakdown {
		row := types.AgentCostReport{Agent: name, Calls: u.Calls, Tokens: u.Tokens, Cost: u.Cost}
		if u.Calls > 0 {
			row.TokensPerCall = float64(u.Tokens) / float64(u.Calls)
			row.CostPerCall = u.Cost / float64(u.Calls)
		}
		if m.TotalCost > 0 {
			row.CostShare = u.Cost / m.TotalCost
		}
		r.Agents = append(r.Agents, row)
	}
	sort.Slice(r.Agents, func(i, j int) bool {
		if r.Agents[i].Cost != r.Agents[j].Cost {
			return r.Agents[i].Cost > r.Agents[j].Cost
		}
		return r.Agents[i].Agent < r.Agents[j].Agent
	})
	return r
}
