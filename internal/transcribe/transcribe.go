// Package transcribe reaches the external transcription service and
// fetches page metadata for video references.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Options tune one extraction.
type Options struct {
	Language string `json:"language,omitempty"`
}

// Extractor turns a video reference into a transcript.
type Extractor interface {
	Extract(ctx context.Context, videoRef string, opts Options) (*types.Transcript, error)
}

// ErrNoTranscript is returned when the service has nothing for the video.
var ErrNoTranscript = errors.New("no transcript available")

// StatusError is a non-2xx response from the transcription service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transcription status %d: %s", e.Code, e.Body)
}

// ErrorKind classifies the status for the resilience layer.
func (e *StatusError) ErrorKind() types.ErrorKind {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return types.ErrorKindRateLimit
	case e.Code == http.StatusRequestTimeout || e.Code == http.StatusGatewayTimeout:
		return types.ErrorKindTimeout
	case e.Code >= 500:
		return types.ErrorKindNetwork
	case e.Code == http.StatusBadRequest || e.Code == http.StatusUnprocessableEntity:
		return types.ErrorKindValidation
	}
	return types.ErrorKindToolFailure
}

// HTTPConfig configures the HTTP extractor.
type HTTPConfig struct {
	Endpoint string
	Timeout  time.Duration

	// Client credentials; when ClientID is empty requests are unauthenticated.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// HTTPExtractor calls POST {endpoint}/v1/transcripts.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExtractor creates an extractor. With client credentials configured
// the returned client fetches and refreshes tokens on its own.
func NewHTTPExtractor(ctx context.Context, cfg HTTPConfig) (*HTTPExtractor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transcription endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(ctx)
		client.Timeout = cfg.Timeout
	}
	return &HTTPExtractor{endpoint: strings.TrimRight(cfg.Endpoint, "/"), client: client}, nil
}

type transcriptRequest struct {
	VideoRef string `json:"video_ref"`
	Language string `json:"language,omitempty"`
}

// Extract implements Extractor.
func (e *HTTPExtractor) Extract(ctx context.Context, videoRef string, opts Options) (*types.Transcript, error) {
	body, err := json.Marshal(transcriptRequest{VideoRef: videoRef, Language: opts.Language})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/transcripts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNoTranscript
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var t types.Transcript
	if err := json.NewDecoder(res.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if strings.TrimSpace(t.Text) == "" {
		return nil, ErrNoTranscript
	}
	if t.Source == "" {
		t.Source = "primary"
	}
	t.Confidence = types.ClampConfidence(t.Confidence)
	return &t, nil
}

// StaticExtractor returns a fixed transcript. Used for local runs and tests.
type StaticExtractor struct {
	Text       string
	Confidence float64
	Delay      time.Duration
}

// Extract implements Extractor.
func (s *StaticExtractor) Extract(ctx context.Context, videoRef string, opts Options) (*types.Transcript, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Text == "" {
		return nil, ErrNoTranscript
	}
	return &types.Transcript{Text: s.Text, Confidence: s.Confidence, Source: "primary", Language: opts.Language}, nil
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, videoRef string, opts Options) (*types.Transcript, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, videoRef string, opts Options) (*types.Transcript, error) {
	return f(ctx, videoRef, opts)
}
