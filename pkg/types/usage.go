package types

// AgentUsage is the per-agent slice of UsageMetrics.
type AgentUsage struct {
	Calls  int     `json:"calls"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// UsageMetrics aggregates billable tool usage for a workflow.
type UsageMetrics struct {
	TotalCalls        int                   `json:"total_calls"`
	TotalTokens       int                   `json:"total_tokens"`
	TotalCost         float64               `json:"total_cost"`
	PerAgentBreakdown map[string]AgentUsage `json:"per_agent_breakdown"`
}

// Clone returns a copy with its own breakdown map.
func (m UsageMetrics) Clone() UsageMetrics {
	c := m
	c.PerAgentBreakdown = make(map[string]AgentUsage, len(m.PerAgentBreakdown))
	for k, v := range m.PerAgentBreakdown {
		c.PerAgentBreakdown[k] = v
	}
	return c
}

// AgentCostReport is one row of a cost report.
type AgentCostReport struct {
	Agent         string  `json:"agent"`
	Calls         int     `json:"calls"`
	Tokens        int     `json:"tokens"`
	Cost          float64 `json:"cost"`
	TokensPerCall float64 `json:"tokens_per_call"`
	CostPerCall   float64 `json:"cost_per_call"`
	CostShare     float64 `json:"cost_share"`
}

// CostReport summarizes usage with per-agent averages.
type CostReport struct {
	TotalCalls  int               `json:"total_calls"`
	TotalTokens int               `json:"total_tokens"`
	TotalCost   float64           `json:"total_cost"`
	Agents      []AgentCostReport `json:"agents"`
}
