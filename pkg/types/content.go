package types

import (
	"fmt"
	"strings"
)

// ContentKind tags which payload a Content carries.
type ContentKind string

const (
	KindTranscript  ContentKind = "transcript"
	KindAnalysis    ContentKind = "analysis"
	KindProduct     ContentKind = "product"
	KindSEO         ContentKind = "seo"
	KindSocial      ContentKind = "social"
	KindScript      ContentKind = "script"
	KindNewsletter  ContentKind = "newsletter"
	KindBlog        ContentKind = "blog"
	KindQuality     ContentKind = "quality"
	KindPlaceholder ContentKind = "placeholder"
)

// Content is a tagged union of stage payloads. Exactly one payload
// pointer matching Kind is set.
type Content struct {
	Kind        ContentKind        `json:"kind"`
	Transcript  *Transcript        `json:"transcript,omitempty"`
	Analysis    *ContentAnalysis   `json:"analysis,omitempty"`
	Product     *ProductDetection  `json:"product,omitempty"`
	SEO         *SEOAnalysis       `json:"seo,omitempty"`
	Social      *SocialContent     `json:"social,omitempty"`
	Script      *ScriptContent     `json:"script,omitempty"`
	Newsletter  *NewsletterContent `json:"newsletter,omitempty"`
	Blog        *BlogPost          `json:"blog,omitempty"`
	Quality     *QualityReport     `json:"quality,omitempty"`
	Placeholder *Placeholder       `json:"placeholder,omitempty"`
}

// Transcript is the transcription collaborator's output.
type Transcript struct {
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source"`
	Language   string         `json:"language,omitempty"`
	Metadata   *VideoMetadata `json:"metadata,omitempty"`
}

// VideoMetadata holds page-level facts about the source video.
type VideoMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// ContentAnalysis summarizes what the video is about.
type ContentAnalysis struct {
	Topics         []string `json:"topics"`
	KeyPoints      []string `json:"key_points"`
	Sentiment      string   `json:"sentiment"`
	TargetAudience string   `json:"target_audience"`
	Summary        string   `json:"summary,omitempty"`
}

// ProductDetection reports a product featured in the video, if any.
type ProductDetection struct {
	Detected bool     `json:"detected"`
	Product  string   `json:"product,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

// SEOAnalysis holds keyword and metadata suggestions.
type SEOAnalysis struct {
	PrimaryKeywords   []string `json:"primary_keywords"`
	SecondaryKeywords []string `json:"secondary_keywords,omitempty"`
	SuggestedTitle    string   `json:"suggested_title"`
	MetaDescription   string   `json:"meta_description"`
}

// SocialPost is one post for one platform.
type SocialPost struct {
	Platform string   `json:"platform"`
	Body     string   `json:"body"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// SocialContent groups posts across platforms.
type SocialContent struct {
	Posts []SocialPost `json:"posts"`
}

// Script is one short-form video script.
type Script struct {
	Title           string   `json:"title"`
	Hook            string   `json:"hook"`
	Body            string   `json:"body"`
	CallToAction    string   `json:"call_to_action,omitempty"`
	VisualCues      []string `json:"visual_cues,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
}

// ScriptContent groups short scripts.
type ScriptContent struct {
	Scripts []Script `json:"scripts"`
}

// NewsletterContent is an email newsletter draft.
type NewsletterContent struct {
	Subject      string   `json:"subject"`
	Preheader    string   `json:"preheader,omitempty"`
	Sections     []string `json:"sections"`
	CallToAction string   `json:"call_to_action,omitempty"`
}

// BlogPost is a long-form article draft.
type BlogPost struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description,omitempty"`
	Body            string   `json:"body"`
	Tags            []string `json:"tags,omitempty"`
}

// QualityReport is the aggregation stage's verdict over generated artifacts.
type QualityReport struct {
	Overall float64            `json:"overall"`
	Scores  map[string]float64 `json:"scores"`
	Failed  []string           `json:"failed,omitempty"`
	Notes   []string           `json:"notes,omitempty"`
}

// Placeholder is the neutral payload used when nothing better exists.
type Placeholder struct {
	Message string `json:"message"`
}

// PlaceholderContent builds a placeholder Content.
func PlaceholderContent(msg string) Content {
	return Content{Kind: KindPlaceholder, Placeholder: &Placeholder{Message: msg}}
}

// IsZero reports whether no payload has been set.
func (c Content) IsZero() bool {
	return c.Kind == ""
}

// Valid reports whether the payload matching Kind is present.
func (c Content) Valid() bool {
	switch c.Kind {
	case KindTranscript:
		return c.Transcript != nil
	case KindAnalysis:
		return c.Analysis != nil
	case KindProduct:
		return c.Product != nil
	case KindSEO:
		return c.SEO != nil
	case KindSocial:
		return c.Social != nil
	case KindScript:
		return c.Script != nil
	case KindNewsletter:
		return c.Newsletter != nil
	case KindBlog:
		return c.Blog != nil
	case KindQuality:
		return c.Quality != nil
	case KindPlaceholder:
		return c.Placeholder != nil
	}
	return false
}

// AsTranscript decodes the transcript payload.
func (c Content) AsTranscript() (*Transcript, bool) {
	return c.Transcript, c.Kind == KindTranscript && c.Transcript != nil
}

// AsAnalysis decodes the analysis payload.
func (c Content) AsAnalysis() (*ContentAnalysis, bool) {
	return c.Analysis, c.Kind == KindAnalysis && c.Analysis != nil
}

// AsProduct decodes the product payload.
func (c Content) AsProduct() (*ProductDetection, bool) {
	return c.Product, c.Kind == KindProduct && c.Product != nil
}

// AsSEO decodes the SEO payload.
func (c Content) AsSEO() (*SEOAnalysis, bool) {
	return c.SEO, c.Kind == KindSEO && c.SEO != nil
}

// Text renders the payload as plain text for critique, revision and export.
func (c Content) Text() string {
	var b strings.Builder
	switch c.Kind {
	case KindTranscript:
		if c.Transcript != nil {
			b.WriteString(c.Transcript.Text)
		}
	case KindAnalysis:
		if a := c.Analysis; a != nil {
			fmt.Fprintf(&b, "Topics: %s\n", strings.Join(a.Topics, ", "))
			for _, p := range a.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", p)
			}
			fmt.Fprintf(&b, "Sentiment: %s\nAudience: %s\n", a.Sentiment, a.TargetAudience)
			if a.Summary != "" {
				b.WriteString(a.Summary)
			}
		}
	case KindProduct:
		if p := c.Product; p != nil {
			if p.Detected {
				fmt.Fprintf(&b, "Product: %s", p.Product)
			} else {
				b.WriteString("No product detected")
			}
		}
	case KindSEO:
		if s := c.SEO; s != nil {
			fmt.Fprintf(&b, "%s\n%s\nKeywords: %s", s.SuggestedTitle, s.MetaDescription, strings.Join(s.PrimaryKeywords, ", "))
		}
	case KindSocial:
		if s := c.Social; s != nil {
			for i, p := range s.Posts {
				if i > 0 {
					b.WriteString("\n\n")
				}
				fmt.Fprintf(&b, "[%s]\n%s", p.Platform, p.Body)
				if len(p.Hashtags) > 0 {
					fmt.Fprintf(&b, "\n%s", strings.Join(p.Hashtags, " "))
				}
			}
		}
	case KindScript:
		if s := c.Script; s != nil {
			for i, sc := range s.Scripts {
				if i > 0 {
					b.WriteString("\n\n")
				}
				fmt.Fprintf(&b, "%s\nHook: %s\n%s", sc.Title, sc.Hook, sc.Body)
				if sc.CallToAction != "" {
					fmt.Fprintf(&b, "\nCTA: %s", sc.CallToAction)
				}
			}
		}
	case KindNewsletter:
		if n := c.Newsletter; n != nil {
			fmt.Fprintf(&b, "Subject: %s\n", n.Subject)
			b.WriteString(strings.Join(n.Sections, "\n\n"))
			if n.CallToAction != "" {
				fmt.Fprintf(&b, "\n\n%s", n.CallToAction)
			}
		}
	case KindBlog:
		if p := c.Blog; p != nil {
			fmt.Fprintf(&b, "# %s\n\n%s", p.Title, p.Body)
		}
	case KindQuality:
		if q := c.Quality; q != nil {
			fmt.Fprintf(&b, "Overall quality: %.2f", q.Overall)
			for _, n := range q.Notes {
				fmt.Fprintf(&b, "\n- %s", n)
			}
		}
	case KindPlaceholder:
		if c.Placeholder != nil {
			b.WriteString(c.Placeholder.Message)
		}
	}
	return b.String()
}
