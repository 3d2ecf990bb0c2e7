// Package critique runs the critique/revise loop over generated content.
//
// Each round scores the current candidate. The loop stops as soon as a
// score reaches the threshold, or after the configured number of rounds.
// It always returns the best-scoring candidate seen, never a later
// revision that scored worse.
package critique

import (
	"context"
	"fmt"
	"strings"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Defaults applied when a Config field is zero.
const (
	DefaultThreshold     = 0.8
	DefaultMaxIterations = 3
)

// Score deductions per issue severity, used when the critic reports issues
// but no numeric score.
var severityPenalty = map[types.Severity]float64{
	types.SeverityMinor:    0.05,
	types.SeverityModerate: 0.1,
	types.SeverityMajor:    0.2,
	types.SeverityCritical: 0.3,
}

// Critic scores content.
type Critic interface {
	Assess(ctx context.Context, content types.Content) (types.Assessment, error)
}

// Reviser rewrites content from feedback.
type Reviser interface {
	Revise(ctx context.Context, content types.Content, feedback string) (types.Content, error)
}

// CriticFunc adapts a function to Critic.
type CriticFunc func(ctx context.Context, content types.Content) (types.Assessment, error)

// Assess implements Critic.
func (f CriticFunc) Assess(ctx context.Context, content types.Content) (types.Assessment, error) {
	return f(ctx, content)
}

// ReviserFunc adapts a function to Reviser.
type ReviserFunc func(ctx context.Context, content types.Content, feedback string) (types.Content, error)

// Revise implements Reviser.
func (f ReviserFunc) Revise(ctx context.Context, content types.Content, feedback string) (types.Content, error) {
	return f(ctx, content, feedback)
}

// Config bounds one loop.
type Config struct {
	Threshold     float64
	MaxIterations int

	// OnIteration observes each scored round.
	OnIteration func(iteration int, score float64, issues int)
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	return c
}

// Score resolves an assessment to a number in [0, 1].
func Score(a types.Assessment) float64 {
	if a.Score != nil {
		return types.ClampConfidence(*a.Score)
	}
	s := 1.0
	for _, issue := range a.Issues {
		p, ok := severityPenalty[issue.Severity]
		if !ok {
			p = severityPenalty[types.SeverityModerate]
		}
		s -= p
	}
	if s < 0 {
		return 0
	}
	return s
}

// Feedback renders an assessment as reviser instructions.
func Feedback(a types.Assessment) string {
	var b strings.Builder
	if a.Feedback != "" {
		b.WriteString(a.Feedback)
		b.WriteString("\n")
	}
	for _, issue := range a.Issues {
		fmt.Fprintf(&b, "- [%s/%s] %s", issue.Severity, issue.Category, issue.Message)
		if issue.Suggestion != "" {
			fmt.Fprintf(&b, " (suggestion: %s)", issue.Suggestion)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// Run critiques content until it is accepted or the rounds run out.
//
// A critic or reviser error ends the loop as EXHAUSTED with the best
// candidate so far. If no round was ever scored the original content is
// returned with a final score of 0.
func Run(ctx context.Context, critic Critic, reviser Reviser, content types.Content, cfg Config) *types.CritiqueRecord {
	cfg = cfg.withDefaults()
	rec := &types.CritiqueRecord{
		OriginalContent: content,
		CurrentContent:  content,
		Outcome:         types.CritiqueExhausted,
	}

	var (
		current   = content
		bestScore = -1.0
	)
	for i := 1; i <= cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			rec.Error = err.Error()
			break
		}

		a, err := critic.Assess(ctx, current)
		if err != nil {
			rec.Error = fmt.Sprintf("critique round %d: %v", i, err)
			break
		}
		score := Score(a)
		rec.IterationCount = i
		rec.ScoreHistory = append(rec.ScoreHistory, score)
		if cfg.OnIteration != nil {
			cfg.OnIteration(i, score, len(a.Issues))
		}

		// Ties go to the later candidate.
		if score >= bestScore {
			bestScore = score
			rec.CurrentContent = current
			rec.BestIteration = i
		}
		if score >= cfg.Threshold {
			rec.Converged = true
			rec.Outcome = types.CritiqueAccepted
			break
		}
		if i == cfg.MaxIterations {
			break
		}

		feedback := Feedback(a)
		rec.FeedbackHistory = append(rec.FeedbackHistory, feedback)
		revised, err := reviser.Revise(ctx, current, feedback)
		if err != nil {
			rec.Error = fmt.Sprintf("revise round %d: %v", i, err)
			break
		}
		if revised.Kind != content.Kind || !revised.Valid() {
			rec.Error = fmt.Sprintf("revise round %d: revision is not valid %s content", i, content.Kind)
			break
		}
		current = revised
	}

	if bestScore >= 0 {
		rec.FinalScore = bestScore
	}
	metrics.CritiqueIterations.WithLabelValues(string(rec.Outcome)).Observe(float64(rec.IterationCount))
	return rec
}
