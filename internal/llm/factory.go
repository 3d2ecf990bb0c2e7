package llm

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures a provider.
type Config struct {
	Provider string // gemini, openai, ollama, mock
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// New builds the client named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMockClient(), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case "openai":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, "openai", cfg.Timeout), nil
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = "http://localhost:11434"
		}
		return NewOpenAIClient(base, "", cfg.Model, "ollama", cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}
