package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient implements Client for Google Gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, p *Prompt) (*Generation, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(p.Temperature)
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}
	if p.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	cand := resp.Candidates[0]
	var parts []string
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return nil, ErrEmptyResponse
	}

	gen := &Generation{
		Text:          strings.Join(parts, ""),
		RawConfidence: 0.5,
		Model:         c.model,
		Provider:      "gemini",
	}
	if cand.FinishReason == genai.FinishReasonStop {
		gen.RawConfidence = 0.9
	}
	if u := resp.UsageMetadata; u != nil {
		gen.PromptTokens = int(u.PromptTokenCount)
		gen.CompletionTokens = int(u.CandidatesTokenCount)
		gen.TotalTokens = int(u.TotalTokenCount)
	}
	return gen, nil
}

// Provider implements Client.
func (c *GeminiClient) Provider() string { return "gemini" }

// Model implements Client.
func (c *GeminiClient) Model() string { return c.model }

// Close releases resources held by the client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
