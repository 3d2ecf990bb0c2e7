package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/accounting"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/transcribe"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// testTools calls the invoker directly under a fixed agent name.
type testTools struct {
	inv   *tool.Invoker
	agent string

	mu       sync.Mutex
	calls    []string
	thoughts []types.ThoughtKind
}

func (t *testTools) Call(ctx context.Context, name string, params map[string]any) *types.ToolResponse {
	t.mu.Lock()
	t.calls = append(t.calls, name)
	n := len(t.calls)
	t.mu.Unlock()
	return t.inv.Invoke(ctx, &types.ToolRequest{
		ToolName:   name,
		Parameters: params,
		RequestID:  fmt.Sprintf("req-%d", n),
		AgentName:  t.agent,
	})
}

func (t *testTools) Think(kind types.ThoughtKind, content string, confidence float64) {
	t.mu.Lock()
	t.thoughts = append(t.thoughts, kind)
	t.mu.Unlock()
}

func newTools(t *testing.T, agent string, client llm.Client) *testTools {
	t.Helper()
	inv := tool.NewInvoker(nil)
	for _, d := range []tool.Definition{
		tool.LLM(client, accounting.DefaultPricing(), time.Second),
		tool.Transcribe(&transcribe.StaticExtractor{Text: "Acme Planner keeps every task in one place. The planner sorts the week.", Confidence: 0.95}, time.Second),
		tool.Keywords(),
	} {
		require.NoError(t, inv.Register(d))
	}
	return &testTools{inv: inv, agent: agent}
}

func upstream(results ...*types.StageResult) map[string]*types.StageResult {
	out := make(map[string]*types.StageResult, len(results))
	for _, r := range results {
		out[r.AgentName] = r
	}
	return out
}

func transcriptResult() *types.StageResult {
	return &types.StageResult{
		AgentName:  NameTranscriber,
		Success:    true,
		Confidence: 0.9,
		Content: types.Content{Kind: types.KindTranscript, Transcript: &types.Transcript{
			Text: "Acme Planner keeps every task in one place.", Source: "static",
		}},
	}
}

func analysisResult() *types.StageResult {
	return &types.StageResult{
		AgentName:  NameContentAnalyst,
		Success:    true,
		Confidence: 0.85,
		Content: types.Content{Kind: types.KindAnalysis, Analysis: &types.ContentAnalysis{
			Topics: []string{"productivity"}, KeyPoints: []string{"saves time"}, Sentiment: "positive", TargetAudience: "teams",
		}},
	}
}

func TestTranscriber(t *testing.T) {
	tools := newTools(t, NameTranscriber, llm.NewMockClient())
	resp, err := NewTranscriber().Produce(context.Background(), &Input{
		Request: types.WorkflowInput{VideoRef: "video-1"},
		Tools:   tools,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Content.Transcript)
	assert.Contains(t, resp.Content.Transcript.Text, "Acme Planner")
	assert.InDelta(t, 0.95, resp.Confidence, 1e-9)
	assert.Equal(t, []string{tool.NameTranscribe}, tools.calls, "non-URL refs skip metadata")
}

func TestTranscriber_ToolFailure(t *testing.T) {
	inv := tool.NewInvoker(nil)
	require.NoError(t, inv.Register(tool.Transcribe(&transcribe.StaticExtractor{}, time.Second)))
	_, err := NewTranscriber().Produce(context.Background(), &Input{
		Request: types.WorkflowInput{VideoRef: "video-1"},
		Tools:   &testTools{inv: inv, agent: NameTranscriber},
	})
	require.Error(t, err)
}

func TestWriters(t *testing.T) {
	tests := []struct {
		name  string
		agent *Writer
		in    map[string]*types.StageResult
		check func(t *testing.T, c types.Content)
	}{
		{"analyst", NewContentAnalyst(), upstream(transcriptResult()), func(t *testing.T, c types.Content) {
			require.NotNil(t, c.Analysis)
			assert.Equal(t, "positive", c.Analysis.Sentiment)
		}},
		{"product", NewProductDetector(), upstream(transcriptResult()), func(t *testing.T, c types.Content) {
			require.NotNil(t, c.Product)
			assert.True(t, c.Product.Detected)
		}},
		{"seo", NewSEOAnalyst(), upstream(transcriptResult(), analysisResult()), func(t *testing.T, c types.Content) {
			require.NotNil(t, c.SEO)
			assert.NotEmpty(t, c.SEO.PrimaryKeywords)
		}},
		{"social", NewSocialStrategist(), upstream(analysisResult()), func(t *testing.T, c types.Content) {
			require.NotNil(t, c.Social)
			assert.Len(t, c.Social.Posts, 2)
		}},
		{"script", NewScriptWriter(), upstream(analysisResult()), func(t *testing.T, c types.Content) {
			require.NotNil(t, c.Script)
			assert.Equal(t, 30, c.Script.Scripts[0].DurationSeconds)
		}},
		{"newsletter", NewNewsletterWriter(), upstream(analysisResult()), func(t *testing.T, c types.Content) {
			require.NotNil(t, c.Newsletter)
			assert.NotEmpty(t, c.Newsletter.Subject)
		}},
		{"blog", NewBlogWriter(), upstream(transcriptResult(), analysisResult()), func(t *testing.T, c types.Content) {
			require.NotNil(t, c.Blog)
			assert.Contains(t, c.Blog.Title, "Acme Planner")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools := newTools(t, tt.agent.name, llm.NewMockClient())
			resp, err := tt.agent.Produce(context.Background(), &Input{
				Request:  types.WorkflowInput{VideoRef: "video-1", Keywords: []string{"planner"}},
				Upstream: tt.in,
				Tools:    tools,
			})
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.agent.kind, resp.Content.Kind)
			assert.InDelta(t, 0.85, resp.Confidence, 1e-9)
			tt.check(t, resp.Content)
		})
	}
}

func TestWriter_MissingUpstream(t *testing.T) {
	tools := newTools(t, NameBlogWriter, llm.NewMockClient())
	_, err := NewBlogWriter().Produce(context.Background(), &Input{
		Request: types.WorkflowInput{VideoRef: "v"},
		Upstream: upstream(&types.StageResult{
			AgentName: NameContentAnalyst, Success: false,
			Content: types.PlaceholderContent("failed"),
		}),
		Tools: tools,
	})
	require.Error(t, err)
	assert.Empty(t, tools.calls, "no model call without required input")
}

func TestWriter_RejectsMalformedOutput(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responder = func(ctx context.Context, p *llm.Prompt) (*llm.Generation, error) {
		return &llm.Generation{Text: `{"title": 42}`, RawConfidence: 0.9}, nil
	}
	_, err := NewBlogWriter().Produce(context.Background(), &Input{
		Request:  types.WorkflowInput{VideoRef: "v"},
		Upstream: upstream(analysisResult()),
		Tools:    newTools(t, NameBlogWriter, mock),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestDecodeContent_StripsFences(t *testing.T) {
	c, err := DecodeContent(types.KindBlog, "```json\n{\"title\":\"T\",\"body\":\"B\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "T", c.Blog.Title)

	_, err = DecodeContent(types.KindQuality, "{}")
	assert.Error(t, err)
}

func TestQualityController(t *testing.T) {
	critiqued := &types.StageResult{
		AgentName: NameBlogWriter, Success: true, Confidence: 0.7,
		Content:  types.Content{Kind: types.KindBlog, Blog: &types.BlogPost{Title: "T", Body: "all about the planner"}},
		Critique: &types.CritiqueRecord{FinalScore: 0.9},
	}
	social := &types.StageResult{
		AgentName: NameSocialStrategist, Success: true, Confidence: 0.7,
		Content: types.Content{Kind: types.KindSocial, Social: &types.SocialContent{Posts: []types.SocialPost{{Platform: "x", Body: "hi"}}}},
	}
	failed := &types.StageResult{AgentName: NameScriptWriter, Success: false, Content: types.PlaceholderContent("x")}

	tools := newTools(t, NameQualityController, llm.NewMockClient())
	resp, err := NewQualityController().Produce(context.Background(), &Input{
		Request:  types.WorkflowInput{VideoRef: "v", Keywords: []string{"planner", "budget"}},
		Upstream: upstream(critiqued, social, failed),
		Tools:    tools,
	})
	require.NoError(t, err)
	q := resp.Content.Quality
	require.NotNil(t, q)
	assert.InDelta(t, 0.8, q.Overall, 1e-9)
	assert.InDelta(t, 0.9, q.Scores[NameBlogWriter], 1e-9)
	assert.Equal(t, []string{NameScriptWriter}, q.Failed)

	var budgetNote bool
	for _, n := range q.Notes {
		if strings.Contains(n, `"budget"`) {
			budgetNote = true
		}
	}
	assert.True(t, budgetNote, "notes = %v", q.Notes)
}

func TestCriticAndReviser(t *testing.T) {
	blog := types.Content{Kind: types.KindBlog, Blog: &types.BlogPost{Title: "Draft", Body: "body"}}

	critic := &Critic{Tools: newTools(t, NameCritic, llm.NewMockClient())}
	a, err := critic.Assess(context.Background(), blog)
	require.NoError(t, err)
	require.NotNil(t, a.Score)
	assert.InDelta(t, 0.86, *a.Score, 1e-9)
	require.Len(t, a.Issues, 1)
	assert.Equal(t, types.SeverityMinor, a.Issues[0].Severity)

	mock := llm.NewMockClient()
	reviser := &Reviser{Tools: newTools(t, NameReviser, mock)}
	revised, err := reviser.Revise(context.Background(), blog, "punchier opening")
	require.NoError(t, err)
	assert.Equal(t, types.KindBlog, revised.Kind)
	assert.Equal(t, llm.TaskRevise+":"+llm.TaskBlog, mock.Calls()[0].Task)
	assert.Contains(t, mock.Calls()[0].User, "punchier opening")

	_, err = reviser.Revise(context.Background(), types.PlaceholderContent("x"), "fb")
	assert.Error(t, err)
}
