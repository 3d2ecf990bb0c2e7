// Package llm provides language-model clients behind a single interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Prompt is one generation request.
type Prompt struct {
	System      string
	User        string
	JSON        bool
	Temperature float32

	// Task names the calling agent's task. Mock clients key canned output on it.
	Task string
}

// Generation is a completed model response.
type Generation struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// RawConfidence is the provider's own signal, in [0,1].
	RawConfidence float64

	Model    string
	Provider string
}

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, p *Prompt) (*Generation, error)
	Provider() string
	Model() string
	Close() error
}

// ErrEmptyResponse is returned when the provider produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

// ErrorKind classifies the status for the resilience layer.
func (e *StatusError) ErrorKind() types.ErrorKind {
	switch {
	case e.Code == 429:
		return types.ErrorKindRateLimit
	case e.Code == 408 || e.Code == 504:
		return types.ErrorKindTimeout
	case e.Code >= 500:
		return types.ErrorKindNetwork
	case e.Code == 400 || e.Code == 422:
		return types.ErrorKindValidation
	}
	return types.ErrorKindToolFailure
}

// CleanJSONBlock removes markdown code fences around JSON output.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if start := strings.IndexAny(text, "{["); start > 0 {
		text = text[start:]
	}
	return text
}

func composePrompt(p *Prompt) string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}
