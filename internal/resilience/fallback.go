package resilience

import (
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// FallbackContent builds the neutral payload used when an agent fails.
type FallbackContent func() types.Content

var fallbacks = map[string]FallbackContent{
	"transcriber": func() types.Content {
		return types.Content{Kind: types.KindTranscript, Transcript: &types.Transcript{Source: "fallback"}}
	},
	"content_analyst": func() types.Content {
		return types.Content{Kind: types.KindAnalysis, Analysis: &types.ContentAnalysis{
			Topics:         []string{"General content"},
			KeyPoints:      []string{"Unable to extract specific points due to processing error"},
			Sentiment:      "neutral",
			TargetAudience: "General audience",
		}}
	},
	"product_detector": func() types.Content {
		return types.Content{Kind: types.KindProduct, Product: &types.ProductDetection{}}
	},
	"seo_analyst": func() types.Content {
		return types.Content{Kind: types.KindSEO, SEO: &types.SEOAnalysis{}}
	},
	"social_strategist": func() types.Content {
		return types.Content{Kind: types.KindSocial, Social: &types.SocialContent{Posts: []types.SocialPost{{
			Platform: "linkedin",
			Body:     "Unable to generate social media content at this time. Please try again.",
			Hashtags: []string{"#Content", "#SocialMedia"},
		}}}}
	},
	"script_writer": func() types.Content {
		return types.Content{Kind: types.KindScript, Script: &types.ScriptContent{}}
	},
	"newsletter_writer": func() types.Content {
		return types.Content{Kind: types.KindNewsletter, Newsletter: &types.NewsletterContent{
			Subject:  "Newsletter unavailable",
			Sections: []string{"Unable to generate newsletter content at this time."},
		}}
	},
	"blog_writer": func() types.Content {
		return types.Content{Kind: types.KindBlog, Blog: &types.BlogPost{
			Title: "Blog post unavailable",
			Body:  "Unable to generate blog content at this time.",
		}}
	},
}

// RegisterFallback sets the fallback payload for an agent. It is not safe
// to call concurrently with Fallback.
func RegisterFallback(agent string, fn FallbackContent) {
	fallbacks[agent] = fn
}

// Fallback returns the neutral failed response for agent.
func Fallback(agent string, err error) *types.AgentResponse {
	content := types.PlaceholderContent("Processing failed. Please try again later.")
	if fn, ok := fallbacks[agent]; ok {
		content = fn()
	}
	meta := map[string]string{"fallback_used": "true"}
	if err != nil {
		meta["original_error"] = err.Error()
	}
	return &types.AgentResponse{
		Success:     false,
		Content:     content,
		Confidence:  0,
		Reasoning:   "fallback response due to dependency failure",
		Suggestions: []string{"Try again later"},
		Metadata:    meta,
	}
}
