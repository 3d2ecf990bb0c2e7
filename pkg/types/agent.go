package types

// AgentResponse is what an agent hands back to the orchestrator.
type AgentResponse struct {
	Success     bool              `json:"success"`
	Content     Content           `json:"content"`
	Confidence  float64           `json:"confidence"`
	Reasoning   string            `json:"reasoning,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// ThoughtKind labels an agent reasoning step in the observability log.
type ThoughtKind string

const (
	ThoughtPlan    ThoughtKind = "plan"
	ThoughtReason  ThoughtKind = "reason"
	ThoughtReflect ThoughtKind = "reflect"
	ThoughtDecide  ThoughtKind = "decide"
)

// AgentInfo describes a registered agent for listing endpoints.
type AgentInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Produces    ContentKind `json:"produces"`
	Tools       []string    `json:"tools,omitempty"`
}
