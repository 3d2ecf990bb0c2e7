package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// MetadataFetcher reads title, description and keywords from a video page.
type MetadataFetcher struct {
	client    *http.Client
	userAgent string
}

// NewMetadataFetcher creates a fetcher with the given timeout.
func NewMetadataFetcher(timeout time.Duration) *MetadataFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MetadataFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (compatible; RepurposeBot/1.0)",
	}
}

// Fetch loads videoRef and extracts its metadata. Non-URL references are
// rejected so callers can skip enrichment.
func (f *MetadataFetcher) Fetch(ctx context.Context, videoRef string) (*types.VideoMetadata, error) {
	u, err := url.Parse(videoRef)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid video url %q", videoRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoRef, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", videoRef, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{Code: res.StatusCode, Body: res.Status}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return ParseMetadata(doc), nil
}

// ParseMetadata extracts metadata from a parsed page, preferring Open Graph tags.
func ParseMetadata(doc *goquery.Document) *types.VideoMetadata {
	meta := &types.VideoMetadata{}

	meta.Title = attr(doc, `meta[property="og:title"]`)
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	meta.Description = attr(doc, `meta[property="og:description"]`)
	if meta.Description == "" {
		meta.Description = attr(doc, `meta[name="description"]`)
	}

	seen := make(map[string]bool)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k != "" && !seen[strings.ToLower(k)] {
			seen[strings.ToLower(k)] = true
			meta.Keywords = append(meta.Keywords, k)
		}
	}
	for _, k := range strings.Split(attr(doc, `meta[name="keywords"]`), ",") {
		add(k)
	}
	doc.Find(`meta[property="og:video:tag"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""))
	})
	return meta
}

func attr(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}
