package critique

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func blog(title string) types.Content {
	return types.Content{Kind: types.KindBlog, Blog: &types.BlogPost{Title: title, Body: "body"}}
}

// scripted scores candidates from a fixed list and revises by renaming the
// title to "revision N".
type scripted struct {
	scores  []float64
	assess  int
	revises int
	failAt  int
}

func (s *scripted) Assess(ctx context.Context, c types.Content) (types.Assessment, error) {
	if s.failAt > 0 && s.assess+1 == s.failAt {
		return types.Assessment{}, errors.New("critic unavailable")
	}
	score := s.scores[s.assess]
	s.assess++
	return types.Assessment{Score: &score, Feedback: "tighten it"}, nil
}

func (s *scripted) Revise(ctx context.Context, c types.Content, feedback string) (types.Content, error) {
	s.revises++
	return blog(fmt.Sprintf("revision %d", s.revises)), nil
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRun(t *testing.T) {
	tests := []struct {
		name          string
		scores        []float64
		wantOutcome   types.CritiqueOutcome
		wantFinal     float64
		wantIteration int
		wantTitle     string
	}{
		{"accepted on third round", []float64{0.5, 0.65, 0.9}, types.CritiqueAccepted, 0.9, 3, "revision 2"},
		{"exhausted keeps best", []float64{0.5, 0.6, 0.55}, types.CritiqueExhausted, 0.6, 3, "revision 1"},
		{"accepted immediately", []float64{0.95}, types.CritiqueAccepted, 0.95, 1, "original"},
		{"tie prefers later", []float64{0.6, 0.6, 0.5}, types.CritiqueExhausted, 0.6, 3, "revision 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scripted{scores: tt.scores}
			rec := Run(context.Background(), s, s, blog("original"), Config{Threshold: 0.8, MaxIterations: 3})

			if rec.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s", rec.Outcome, tt.wantOutcome)
			}
			if !near(rec.FinalScore, tt.wantFinal) {
				t.Errorf("final = %v, want %v", rec.FinalScore, tt.wantFinal)
			}
			if rec.IterationCount != tt.wantIteration {
				t.Errorf("iterations = %d, want %d", rec.IterationCount, tt.wantIteration)
			}
			if got := rec.CurrentContent.Blog.Title; got != tt.wantTitle {
				t.Errorf("content = %q, want %q", got, tt.wantTitle)
			}
			if rec.OriginalContent.Blog.Title != "original" {
				t.Errorf("original content changed: %q", rec.OriginalContent.Blog.Title)
			}
			if rec.Converged != (tt.wantOutcome == types.CritiqueAccepted) {
				t.Errorf("converged = %v", rec.Converged)
			}
		})
	}
}

func TestRun_FinalScoreIsMaxOfHistory(t *testing.T) {
	for _, scores := range [][]float64{
		{0.3, 0.2, 0.1},
		{0.1, 0.7, 0.2, 0.4},
		{0.4, 0.4, 0.4},
	} {
		s := &scripted{scores: scores}
		rec := Run(context.Background(), s, s, blog("original"), Config{Threshold: 0.99, MaxIterations: len(scores)})
		max := 0.0
		for _, v := range rec.ScoreHistory {
			max = math.Max(max, v)
		}
		if !near(rec.FinalScore, max) {
			t.Errorf("scores %v: final = %v, want %v", scores, rec.FinalScore, max)
		}
		if rec.ScoreHistory[rec.BestIteration-1] != rec.FinalScore {
			t.Errorf("scores %v: best iteration %d does not hold final score", scores, rec.BestIteration)
		}
	}
}

func TestRun_CriticErrorReturnsBest(t *testing.T) {
	s := &scripted{scores: []float64{0.6, 0.7}, failAt: 2}
	rec := Run(context.Background(), s, s, blog("original"), Config{})

	if rec.Outcome != types.CritiqueExhausted {
		t.Errorf("outcome = %s", rec.Outcome)
	}
	if rec.Error == "" {
		t.Error("expected error to be recorded")
	}
	if rec.CurrentContent.Blog.Title != "original" || !near(rec.FinalScore, 0.6) {
		t.Errorf("got %q at %v", rec.CurrentContent.Blog.Title, rec.FinalScore)
	}
}

func TestRun_NothingScored(t *testing.T) {
	s := &scripted{failAt: 1}
	rec := Run(context.Background(), s, s, blog("original"), Config{})
	if rec.FinalScore != 0 || rec.IterationCount != 0 || rec.CurrentContent.Blog.Title != "original" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestRun_InvalidRevisionStops(t *testing.T) {
	score := 0.4
	critic := CriticFunc(func(ctx context.Context, c types.Content) (types.Assessment, error) {
		return types.Assessment{Score: &score}, nil
	})
	reviser := ReviserFunc(func(ctx context.Context, c types.Content, fb string) (types.Content, error) {
		return types.PlaceholderContent("oops"), nil
	})
	rec := Run(context.Background(), critic, reviser, blog("original"), Config{})
	if rec.CurrentContent.Kind != types.KindBlog || rec.Error == "" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestScore(t *testing.T) {
	high := 1.4
	tests := []struct {
		name string
		a    types.Assessment
		want float64
	}{
		{"explicit clamped", types.Assessment{Score: &high}, 1},
		{"no issues", types.Assessment{}, 1},
		{"deductions", types.Assessment{Issues: []types.Issue{
			{Severity: types.SeverityMinor}, {Severity: types.SeverityMajor}, {Severity: types.SeverityCritical},
		}}, 0.45},
		{"floored", types.Assessment{Issues: []types.Issue{
			{Severity: types.SeverityCritical}, {Severity: types.SeverityCritical},
			{Severity: types.SeverityCritical}, {Severity: types.SeverityCritical},
		}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.a); !near(got, tt.want) {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}
