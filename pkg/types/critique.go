package types

// CritiqueOutcome is the terminal state of a critique loop.
type CritiqueOutcome string

const (
	CritiqueAccepted  CritiqueOutcome = "ACCEPTED"
	CritiqueExhausted CritiqueOutcome = "EXHAUSTED"
)

// Severity grades a critique issue.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Issue is one problem a critic found.
type Issue struct {
	Category   string   `json:"category"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Assessment is a single critique round's verdict. Score is nil when the
// critic only listed issues.
type Assessment struct {
	Score    *float64 `json:"score,omitempty"`
	Issues   []Issue  `json:"issues,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
}

// CritiqueRecord tracks the critique loop for one artifact.
type CritiqueRecord struct {
	OriginalContent Content         `json:"original_content"`
	CurrentContent  Content         `json:"current_content"`
	IterationCount  int             `json:"iteration_count"`
	ScoreHistory    []float64       `json:"score_history"`
	FinalScore      float64         `json:"final_score"`
	Converged       bool            `json:"converged"`
	Outcome         CritiqueOutcome `json:"outcome"`
	BestIteration   int             `json:"best_iteration"`
	FeedbackHistory []string        `json:"feedback_history,omitempty"`
	Error           string          `json:"error,omitempty"`
}
