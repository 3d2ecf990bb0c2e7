package llm

import (
	"context"
	"strings"
	"sync"
)

// Task names used by agents. Mock output is keyed on them.
const (
	TaskAnalysis   = "content_analysis"
	TaskProduct    = "product_detection"
	TaskSEO        = "seo_analysis"
	TaskSocial     = "social_content"
	TaskScript     = "script"
	TaskNewsletter = "newsletter"
	TaskBlog       = "blog"
	TaskCritique   = "critique"
	TaskRevise     = "revise"
)

var cannedOutput = map[string]string{
	TaskAnalysis: `{"topics":["product demo","productivity"],"key_points":["Shows the main workflow","Highlights time savings"],` +
		`"sentiment":"positive","target_audience":"busy professionals","summary":"A walkthrough of the product's core features."}`,
	TaskProduct: `{"detected":true,"product":"Acme Planner","mentions":["Acme Planner keeps every task in one place"]}`,
	TaskSEO: `{"primary_keywords":["task planner","productivity app"],"secondary_keywords":["time management"],` +
		`"suggested_title":"How Acme Planner Saves You Hours Every Week","meta_description":"See how Acme Planner organizes your work in minutes."}`,
	TaskSocial: `{"posts":[{"platform":"linkedin","body":"Spent the week testing Acme Planner. Here is what changed for our team.","hashtags":["#productivity"]},` +
		`{"platform":"twitter","body":"One planner, zero sticky notes.","hashtags":["#productivity","#tools"]}]}`,
	TaskScript: `{"scripts":[{"title":"Planner in 30 seconds","hook":"Still juggling five to-do apps?","body":"Open Acme Planner, drop in your tasks and let it sort the week.",` +
		`"call_to_action":"Try it free today","duration_seconds":30}]}`,
	TaskNewsletter: `{"subject":"Your week, organized","preheader":"A quick look at Acme Planner","sections":["This week we tried Acme Planner.","Here is what we learned."],` +
		`"call_to_action":"Read the full review"}`,
	TaskBlog: `{"title":"How Acme Planner Saves You Hours Every Week","meta_description":"A hands-on review of Acme Planner.",` +
		`"body":"We spent a week with Acme Planner. The task inbox and weekly view stood out.","tags":["productivity","review"]}`,
	TaskCritique: `{"score":0.86,"issues":[{"category":"style","severity":"minor","message":"Opening could be punchier"}],"feedback":"Solid draft with a soft opening."}`,
}

// MockClient returns canned JSON per task. Responder, when set, overrides it.
type MockClient struct {
	Responder func(ctx context.Context, p *Prompt) (*Generation, error)

	mu    sync.Mutex
	calls []Prompt
}

// NewMockClient creates a mock client with canned output.
func NewMockClient() *MockClient { return &MockClient{} }

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, p *Prompt) (*Generation, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *p)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Responder != nil {
		return m.Responder(ctx, p)
	}

	text, ok := cannedOutput[p.Task]
	if !ok && strings.HasPrefix(p.Task, TaskRevise+":") {
		text, ok = cannedOutput[strings.TrimPrefix(p.Task, TaskRevise+":")]
	}
	if !ok {
		text = `{"message":"mock response"}`
	}

	prompt := len(strings.Fields(composePrompt(p)))
	completion := len(strings.Fields(text))
	return &Generation{
		Text:             text,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		RawConfidence:    0.85,
		Model:            "mock",
		Provider:         "mock",
	}, nil
}

// Calls returns the prompts received so far.
func (m *MockClient) Calls() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.calls...)
}

// Provider implements Client.
func (m *MockClient) Provider() string { return "mock" }

// Model implements Client.
func (m *MockClient) Model() string { return "mock" }

// Close implements Client.
func (m *MockClient) Close() error { return nil }
