package orchestrator

import (
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/agent"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// ContentRepurposingFlow is the name of the built-in video-to-content flow.
const ContentRepurposingFlow = "content_repurposing"

// Stage names of the built-in flow.
const (
	StageTranscript = "transcript_extraction"
	StageAnalysis   = "content_analysis"
	StageProducts   = "product_detection"
	StageSEO        = "seo_analysis"
	StageSocial     = "social_content_creation"
	StageScript     = "script_creation"
	StageNewsletter = "newsletter_creation"
	StageBlog       = "blog_creation"
	StageQuality    = "quality_control"
)

// ContentRepurposing returns the built-in stage graph: transcript, then
// analysis, then product and SEO detection in parallel, then the four
// deliverables in parallel, then quality control.
func ContentRepurposing() types.StageGraph {
	return types.StageGraph{
		Name:     ContentRepurposingFlow,
		Terminal: StageQuality,
		Stages: []types.StageSpec{
			{Name: StageTranscript, Agent: agent.NameTranscriber, Priority: 10, EstimatedCost: 1, TimeoutSeconds: 300},
			{Name: StageAnalysis, Agent: agent.NameContentAnalyst, DependsOn: []string{StageTranscript}, Priority: 9, EstimatedCost: 2},
			{Name: StageProducts, Agent: agent.NameProductDetector, DependsOn: []string{StageAnalysis}, Priority: 6, EstimatedCost: 1},
			{Name: StageSEO, Agent: agent.NameSEOAnalyst, DependsOn: []string{StageAnalysis}, Priority: 7, EstimatedCost: 1},
			{Name: StageSocial, Agent: agent.NameSocialStrategist, DependsOn: []string{StageAnalysis, StageProducts, StageSEO}, Priority: 5, EstimatedCost: 2, Critique: true},
			{Name: StageScript, Agent: agent.NameScriptWriter, DependsOn: []string{StageAnalysis, StageProducts}, Priority: 4, EstimatedCost: 3, Critique: true},
			{Name: StageNewsletter, Agent: agent.NameNewsletterWriter, DependsOn: []string{StageAnalysis, StageProducts}, Priority: 4, EstimatedCost: 2, Critique: true},
			{Name: StageBlog, Agent: agent.NameBlogWriter, DependsOn: []string{StageAnalysis, StageProducts, StageSEO}, Priority: 3, EstimatedCost: 4, Critique: true},
			{
				Name:          StageQuality,
				Agent:         agent.NameQualityController,
				DependsOn:     []string{StageSocial, StageScript, StageNewsletter, StageBlog},
				Priority:      1,
				EstimatedCost: 1,
				AllowPartial:  true,
			},
		},
	}
}
