package tool

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/accounting"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/transcribe"
)

// Built-in tool names.
const (
	NameLLM        = "llm.generate"
	NameTranscribe = "transcribe"
	NameKeywords   = "keyword_extraction"
	NameMetadata   = "video_metadata"
)

// Breaker keys for built-in tools.
const (
	DependencyLLM           = "llm"
	DependencyTranscription = "transcription"
	DependencyWeb           = "web"
	DependencyLocal         = "local"
)

const llmSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["user"],
  "properties": {
    "system": {"type": "string"},
    "user": {"type": "string", "minLength": 1},
    "json": {"type": "boolean"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "task": {"type": "string"}
  }
}`

// LLM wraps a model client. Usage is billable and priced per provider.
func LLM(client llm.Client, pricing accounting.Pricing, timeout time.Duration) Definition {
	return Definition{
		Name:        NameLLM,
		Description: "Generate text with the configured language model",
		Dependency:  DependencyLLM,
		Schema:      llmSchema,
		Permissions: []string{"all"},
		Timeout:     timeout,
		Handler: func(ctx context.Context, params map[string]any) (*Result, error) {
			gen, err := client.Generate(ctx, &llm.Prompt{
				System:      stringParam(params, "system"),
				User:        stringParam(params, "user"),
				JSON:        boolParam(params, "json"),
				Temperature: float32(floatParam(params, "temperature")),
				Task:        stringParam(params, "task"),
			})
			if err != nil {
				return nil, err
			}
			return &Result{
				Value:    gen,
				Tokens:   gen.TotalTokens,
				Cost:     pricing.Cost(gen.Provider, gen.TotalTokens),
				Billable: true,
			}, nil
		},
	}
}

const transcribeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["video_ref"],
  "properties": {
    "video_ref": {"type": "string", "minLength": 1},
    "language": {"type": "string"}
  }
}`

// Transcribe wraps the transcription collaborator.
func Transcribe(ex transcribe.Extractor, timeout time.Duration) Definition {
	return Definition{
		Name:        NameTranscribe,
		Description: "Extract a transcript from a video reference",
		Dependency:  DependencyTranscription,
		Schema:      transcribeSchema,
		Permissions: []string{"transcriber"},
		Timeout:     timeout,
		Handler: func(ctx context.Context, params map[string]any) (*Result, error) {
			t, err := ex.Extract(ctx, stringParam(params, "video_ref"), transcribe.Options{Language: stringParam(params, "language")})
			if err != nil {
				return nil, err
			}
			return &Result{Value: t}, nil
		},
	}
}

const metadataSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "pattern": "^https?://"}
  }
}`

// Metadata fetches page metadata for a video URL.
func Metadata(f *transcribe.MetadataFetcher) Definition {
	return Definition{
		Name:        NameMetadata,
		Description: "Fetch title, description and keywords from a video page",
		Dependency:  DependencyWeb,
		Schema:      metadataSchema,
		Permissions: []string{"transcriber", "content_analyst"},
		Timeout:     15 * time.Second,
		RateLimit:   2,
		Burst:       4,
		Handler: func(ctx context.Context, params map[string]any) (*Result, error) {
			meta, err := f.Fetch(ctx, stringParam(params, "url"))
			if err != nil {
				return nil, err
			}
			return &Result{Value: meta}, nil
		},
	}
}

const keywordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 100},
    "keywords": {"type": "array", "items": {"type": "string"}}
  }
}`

// KeywordCount is one keyword_extraction result row.
type KeywordCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// KeywordResult is the keyword_extraction output.
type KeywordResult struct {
	Top []KeywordCount `json:"top"`

	// Coverage maps each requested keyword to its occurrence count.
	Coverage map[string]int `json:"coverage,omitempty"`
}

// Keywords is a local frequency-based keyword extractor.
func Keywords() Definition {
	return Definition{
		Name:        NameKeywords,
		Description: "Extract frequent terms and count requested keywords",
		Dependency:  DependencyLocal,
		Schema:      keywordSchema,
		Permissions: []string{"all"},
		Timeout:     5 * time.Second,
		Handler: func(ctx context.Context, params map[string]any) (*Result, error) {
			limit := intParam(params, "limit")
			if limit <= 0 {
				limit = 10
			}
			return &Result{Value: ExtractKeywords(stringParam(params, "text"), limit, stringSliceParam(params, "keywords"))}, nil
		},
	}
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true, "with": true, "you": true,
	"your": true, "are": true, "was": true, "have": true, "has": true, "but": true, "not": true,
	"from": true, "they": true, "will": true, "can": true, "our": true, "all": true, "its": true,
	"into": true, "about": true, "just": true, "what": true, "when": true, "here": true, "there": true,
}

// ExtractKeywords counts terms of three or more letters, skipping stop words.
func ExtractKeywords(text string, limit int, wanted []string) KeywordResult {
	lower := strings.ToLower(text)
	counts := make(map[string]int)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		counts[w]++
	}

	top := make([]KeywordCount, 0, len(counts))
	for term, n := range counts {
		top = append(top, KeywordCount{Term: term, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Term < top[j].Term
	})
	if len(top) > limit {
		top = top[:limit]
	}

	res := KeywordResult{Top: top}
	if len(wanted) > 0 {
		res.Coverage = make(map[string]int, len(wanted))
		for _, k := range wanted {
			res.Coverage[k] = strings.Count(lower, strings.ToLower(k))
		}
	}
	return res
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func floatParam(params map[string]any, key string) float64 {
	f, _ := params[key].(float64)
	return f
}

func intParam(params map[string]any, key string) int {
	return int(floatParam(params, key))
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, _ := params[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
