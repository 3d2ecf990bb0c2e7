package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// including a local Ollama server.
type OpenAIClient struct {
	BaseURL    string
	APIKey     string
	ModelName  string
	ProviderID string
	HTTPClient *http.Client
}

// NewOpenAIClient creates a client. provider labels usage and pricing
// ("openai", "ollama", ...).
func NewOpenAIClient(baseURL, apiKey, model, provider string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if provider == "" {
		provider = "openai"
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &OpenAIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		ModelName:  model,
		ProviderID: provider,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate implements Client. It performs a single request; retries belong
// to the resilience layer.
func (c *OpenAIClient) Generate(ctx context.Context, p *Prompt) (*Generation, error) {
	body := chatRequest{Model: c.ModelName, Temperature: p.Temperature}
	if p.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: p.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: p.User})
	if p.JSON {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.ProviderID, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &StatusError{Provider: c.ProviderID, Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out chatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.ProviderID, err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	gen := &Generation{
		Text:             out.Choices[0].Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
		RawConfidence:    0.5,
		Model:            c.ModelName,
		Provider:         c.ProviderID,
	}
	if out.Choices[0].FinishReason == "stop" {
		gen.RawConfidence = 0.9
	}
	if gen.TotalTokens == 0 {
		gen.TotalTokens = gen.PromptTokens + gen.CompletionTokens
	}
	return gen, nil
}

// Provider implements Client.
func (c *OpenAIClient) Provider() string { return c.ProviderID }

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.ModelName }

// Close implements Client.
func (c *OpenAIClient) Close() error { return nil }
