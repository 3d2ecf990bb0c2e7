package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/tool"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Built-in agent names.
const (
	NameTranscriber       = "transcriber"
	NameContentAnalyst    = "content_analyst"
	NameProductDetector   = "product_detector"
	NameSEOAnalyst        = "seo_analyst"
	NameSocialStrategist  = "social_strategist"
	NameScriptWriter      = "script_writer"
	NameNewsletterWriter  = "newsletter_writer"
	NameBlogWriter        = "blog_writer"
	NameQualityController = "quality_controller"

	// Critique participants run under these names for tool permissions
	// and usage attribution.
	NameCritic  = "content_critic"
	NameReviser = "content_reviser"
)

// Builtins returns a fresh instance of every built-in agent keyed by name.
func Builtins() map[string]Agent {
	return map[string]Agent{
		NameTranscriber:       NewTranscriber(),
		NameContentAnalyst:    NewContentAnalyst(),
		NameProductDetector:   NewProductDetector(),
		NameSEOAnalyst:        NewSEOAnalyst(),
		NameSocialStrategist:  NewSocialStrategist(),
		NameScriptWriter:      NewScriptWriter(),
		NameNewsletterWriter:  NewNewsletterWriter(),
		NameBlogWriter:        NewBlogWriter(),
		NameQualityController: NewQualityController(),
	}
}

// NewContentAnalyst extracts topics, key points and audience from the transcript.
func NewContentAnalyst() *Writer {
	return &Writer{
		name:        NameContentAnalyst,
		description: "Identifies topics, key points, sentiment and audience",
		kind:        types.KindAnalysis,
		requires:    []types.ContentKind{types.KindTranscript},
		uses:        []types.ContentKind{types.KindTranscript},
		temperature: 0.2,
		extra:       videoMetadata,
	}
}

// NewProductDetector looks for product mentions in the transcript.
func NewProductDetector() *Writer {
	return &Writer{
		name:        NameProductDetector,
		description: "Detects featured products and quotes their mentions",
		kind:        types.KindProduct,
		requires:    []types.ContentKind{types.KindTranscript},
		uses:        []types.ContentKind{types.KindTranscript},
		temperature: 0.1,
	}
}

// NewSEOAnalyst proposes keywords seeded by local term frequencies.
func NewSEOAnalyst() *Writer {
	return &Writer{
		name:        NameSEOAnalyst,
		description: "Proposes search keywords, title and meta description",
		kind:        types.KindSEO,
		requires:    []types.ContentKind{types.KindTranscript},
		uses:        []types.ContentKind{types.KindTranscript, types.KindAnalysis},
		temperature: 0.3,
		extra:       keywordStats,
	}
}

func NewSocialStrategist() *Writer {
	return &Writer{
		name:        NameSocialStrategist,
		description: "Writes platform-native social posts",
		kind:        types.KindSocial,
		requires:    []types.ContentKind{types.KindAnalysis},
		uses:        []types.ContentKind{types.KindAnalysis, types.KindProduct, types.KindSEO},
		temperature: 0.7,
	}
}

func NewScriptWriter() *Writer {
	return &Writer{
		name:        NameScriptWriter,
		description: "Writes short-form video scripts",
		kind:        types.KindScript,
		requires:    []types.ContentKind{types.KindAnalysis},
		uses:        []types.ContentKind{types.KindAnalysis, types.KindProduct, types.KindSEO},
		temperature: 0.7,
	}
}

func NewNewsletterWriter() *Writer {
	return &Writer{
		name:        NameNewsletterWriter,
		description: "Writes an email newsletter",
		kind:        types.KindNewsletter,
		requires:    []types.ContentKind{types.KindAnalysis},
		uses:        []types.ContentKind{types.KindAnalysis, types.KindProduct, types.KindSEO},
		temperature: 0.5,
	}
}

func NewBlogWriter() *Writer {
	return &Writer{
		name:        NameBlogWriter,
		description: "Writes a search-optimized blog post",
		kind:        types.KindBlog,
		requires:    []types.ContentKind{types.KindAnalysis},
		uses:        []types.ContentKind{types.KindTranscript, types.KindAnalysis, types.KindProduct, types.KindSEO},
		temperature: 0.5,
	}
}

// videoMetadata adds page metadata carried on the transcript, if any.
func videoMetadata(_ context.Context, in *Input) string {
	c, ok := in.Find(types.KindTranscript)
	if !ok || c.Transcript.Metadata == nil {
		return ""
	}
	m := c.Transcript.Metadata
	return fmt.Sprintf("\n## PAGE METADATA\nTitle: %s\nDescription: %s\nKeywords: %s\n",
		m.Title, truncate(m.Description, 1000), strings.Join(m.Keywords, ", "))
}

// keywordStats runs local keyword extraction over the transcript. Failures
// only drop the section.
func keywordStats(ctx context.Context, in *Input) string {
	c, ok := in.Find(types.KindTranscript)
	if !ok {
		return ""
	}
	resp := in.Tools.Call(ctx, tool.NameKeywords, map[string]any{
		"text":     c.Text(),
		"limit":    15,
		"keywords": in.Request.Keywords,
	})
	if !resp.Success {
		in.think(types.ThoughtReflect, "keyword extraction unavailable: "+resp.ErrorMessage, 0.5)
		return ""
	}
	res, ok := resp.Result.(tool.KeywordResult)
	if !ok {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## FREQUENT TERMS\n")
	for _, k := range res.Top {
		fmt.Fprintf(&b, "%s (%d)\n", k.Term, k.Count)
	}
	return b.String()
}

// Transcriber turns a video reference into a transcript.
type Transcriber struct{}

func NewTranscriber() *Transcriber { return &Transcriber{} }

// Info implements Describer.
func (t *Transcriber) Info() types.AgentInfo {
	return types.AgentInfo{
		Name:        NameTranscriber,
		Description: "Extracts the transcript and page metadata for a video",
		Produces:    types.KindTranscript,
		Tools:       []string{tool.NameTranscribe, tool.NameMetadata},
	}
}

// Produce implements Agent.
func (t *Transcriber) Produce(ctx context.Context, in *Input) (*types.AgentResponse, error) {
	if in.Tools == nil {
		return nil, resilience.Errorf(types.ErrorKindAgentFailure, "no tools available")
	}
	in.think(types.ThoughtPlan, "extracting transcript for "+in.Request.VideoRef, 0.9)

	resp := in.Tools.Call(ctx, tool.NameTranscribe, map[string]any{
		"video_ref": in.Request.VideoRef,
		"language":  in.Request.Language,
	})
	if !resp.Success {
		return nil, resilience.ResponseError(resp)
	}
	tr, ok := resp.Result.(*types.Transcript)
	if !ok || tr == nil || strings.TrimSpace(tr.Text) == "" {
		return nil, resilience.Errorf(types.ErrorKindToolFailure, "empty transcript")
	}
	out := *tr

	if isURL(in.Request.VideoRef) && out.Metadata == nil {
		meta := in.Tools.Call(ctx, tool.NameMetadata, map[string]any{"url": in.Request.VideoRef})
		if m, ok := meta.Result.(*types.VideoMetadata); meta.Success && ok {
			out.Metadata = m
		} else {
			in.think(types.ThoughtReflect, "continuing without page metadata", 0.7)
		}
	}

	confidence := out.Confidence
	if confidence <= 0 {
		confidence = 0.8
	}
	confidence = types.ClampConfidence(confidence)
	in.think(types.ThoughtDecide, fmt.Sprintf("transcript has %d words", len(strings.Fields(out.Text))), confidence)
	return &types.AgentResponse{
		Success:    true,
		Content:    types.Content{Kind: types.KindTranscript, Transcript: &out},
		Confidence: confidence,
		Reasoning:  "transcript extracted from " + out.Source,
		Metadata:   map[string]string{"source": out.Source},
	}, nil
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// QualityController scores the generated deliverables without calling a
// model. Each deliverable is scored by its critique result when present,
// otherwise by the producing agent's confidence.
type QualityController struct {
	// Deliverables lists the content kinds that are scored.
	Deliverables []types.ContentKind
}

func NewQualityController() *QualityController {
	return &QualityController{Deliverables: []types.ContentKind{
		types.KindSocial, types.KindScript, types.KindNewsletter, types.KindBlog,
	}}
}

// Info implements Describer.
func (q *QualityController) Info() types.AgentInfo {
	return types.AgentInfo{
		Name:        NameQualityController,
		Description: "Aggregates deliverable scores and keyword coverage",
		Produces:    types.KindQuality,
		Tools:       []string{tool.NameKeywords},
	}
}

// Produce implements Agent.
func (q *QualityController) Produce(ctx context.Context, in *Input) (*types.AgentResponse, error) {
	wanted := make(map[types.ContentKind]bool, len(q.Deliverables))
	for _, k := range q.Deliverables {
		wanted[k] = true
	}

	names := make([]string, 0, len(in.Upstream))
	for name := range in.Upstream {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &types.QualityReport{Scores: make(map[string]float64)}
	var (
		sum   float64
		texts []string
	)
	for _, name := range names {
		r := in.Upstream[name]
		if r == nil {
			continue
		}
		if !r.Success {
			report.Failed = append(report.Failed, name)
			continue
		}
		if !wanted[r.Content.Kind] {
			continue
		}
		score := r.Confidence
		if r.Critique != nil {
			score = r.Critique.FinalScore
		}
		report.Scores[name] = score
		sum += score
		texts = append(texts, r.Content.Text())
	}
	if len(report.Scores) == 0 {
		return nil, resilience.Errorf(types.ErrorKindAgentFailure, "no deliverables to assess")
	}
	report.Overall = sum / float64(len(report.Scores))

	if len(in.Request.Keywords) > 0 && in.Tools != nil {
		resp := in.Tools.Call(ctx, tool.NameKeywords, map[string]any{
			"text":     strings.Join(texts, "\n"),
			"limit":    1,
			"keywords": in.Request.Keywords,
		})
		if res, ok := resp.Result.(tool.KeywordResult); resp.Success && ok {
			for _, k := range in.Request.Keywords {
				if res.Coverage[k] == 0 {
					report.Notes = append(report.Notes, fmt.Sprintf("keyword %q does not appear in any deliverable", k))
				}
			}
		}
	}
	if len(report.Failed) > 0 {
		report.Notes = append(report.Notes, fmt.Sprintf("%d upstream stages failed", len(report.Failed)))
	}

	in.think(types.ThoughtDecide, fmt.Sprintf("overall quality %.2f across %d deliverables", report.Overall, len(report.Scores)), report.Overall)
	return &types.AgentResponse{
		Success:    true,
		Content:    types.Content{Kind: types.KindQuality, Quality: report},
		Confidence: types.ClampConfidence(report.Overall),
		Reasoning:  "aggregated deliverable scores",
	}, nil
}
