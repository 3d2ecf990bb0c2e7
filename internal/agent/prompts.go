package agent

import (
	"fmt"
	"strings"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

const jsonOnly = "Respond with a single JSON object and nothing else."

var systemPrompts = map[types.ContentKind]string{
	types.KindAnalysis: "You analyze video transcripts for marketing teams. Identify topics, key points, " +
		"overall sentiment and the target audience. " + jsonOnly +
		` Fields: topics (array), key_points (array), sentiment, target_audience, summary.`,
	types.KindProduct: "You detect whether a video features a specific product. Quote the sentences that mention it. " + jsonOnly +
		` Fields: detected (bool), product, mentions (array).`,
	types.KindSEO: "You are an SEO specialist. Propose keywords, a title and a meta description under 160 characters. " + jsonOnly +
		` Fields: primary_keywords (array), secondary_keywords (array), suggested_title, meta_description.`,
	types.KindSocial: "You write platform-native social media posts. Match each platform's length and tone. " + jsonOnly +
		` Fields: posts (array of {platform, body, hashtags}).`,
	types.KindScript: "You write short-form video scripts with a strong hook in the first three seconds. " + jsonOnly +
		` Fields: scripts (array of {title, hook, body, call_to_action, visual_cues, duration_seconds}).`,
	types.KindNewsletter: "You write concise email newsletters with a clear subject line. " + jsonOnly +
		` Fields: subject, preheader, sections (array), call_to_action.`,
	types.KindBlog: "You write long-form blog posts optimized for search. " + jsonOnly +
		` Fields: title, meta_description, body, tags (array).`,
}

const critiqueSystem = "You are a demanding marketing editor. Score the content from 0 to 1 and list concrete issues. " +
	"Categories: grammar, style, engagement, seo, brand_voice. Severities: minor, moderate, major, critical. " + jsonOnly +
	` Fields: score, issues (array of {category, severity, message, suggestion}), feedback.`

// briefing renders the shared request context every prompt starts with.
func briefing(in *Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Video: %s\n", in.Request.VideoRef)
	if in.Request.BrandVoice != "" {
		fmt.Fprintf(&b, "Brand voice: %s\n", in.Request.BrandVoice)
	}
	if len(in.Request.Keywords) > 0 {
		fmt.Fprintf(&b, "Target keywords: %s\n", strings.Join(in.Request.Keywords, ", "))
	}
	if in.Request.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", in.Request.Language)
	}
	return b.String()
}

// upstreamSections renders the listed upstream payloads as prompt sections.
func upstreamSections(in *Input, kinds ...types.ContentKind) string {
	var b strings.Builder
	for _, k := range kinds {
		c, ok := in.Find(k)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", strings.ToUpper(string(k)), truncate(c.Text(), 6000))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func revisePrompt(content types.Content, feedback, brandVoice string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Revise the following %s content using the editor feedback. Keep the same JSON structure.\n", content.Kind)
	if brandVoice != "" {
		fmt.Fprintf(&b, "Brand voice: %s\n", brandVoice)
	}
	fmt.Fprintf(&b, "\n## FEEDBACK\n%s\n\n## CONTENT\n%s\n", feedback, content.Text())
	return b.String()
}
