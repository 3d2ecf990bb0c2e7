package agent

import (
	"context"
	"fmt"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// Critic scores content with the model and lists issues.
type Critic struct {
	Tools      Tools
	BrandVoice string
	Keywords   []string
}

// Assess returns the model's assessment of content.
func (c *Critic) Assess(ctx context.Context, content types.Content) (types.Assessment, error) {
	user := fmt.Sprintf("Assess this %s content.\n", content.Kind)
	if c.BrandVoice != "" {
		user += "Brand voice: " + c.BrandVoice + "\n"
	}
	if len(c.Keywords) > 0 {
		user += fmt.Sprintf("Target keywords: %v\n", c.Keywords)
	}
	user += "\n## CONTENT\n" + content.Text()

	gen, err := generate(ctx, c.Tools, llm.TaskCritique, critiqueSystem, user, 0.1)
	if err != nil {
		return types.Assessment{}, err
	}
	var a types.Assessment
	if err := critiqueSchema.decode(gen.Text, &a); err != nil {
		return types.Assessment{}, err
	}
	if a.Score != nil {
		s := types.ClampConfidence(*a.Score)
		a.Score = &s
	}
	return a, nil
}

// Reviser rewrites content following critic feedback. The revision must
// decode into the same content kind.
type Reviser struct {
	Tools      Tools
	BrandVoice string
}

// Revise returns a revised copy of content.
func (r *Reviser) Revise(ctx context.Context, content types.Content, feedback string) (types.Content, error) {
	c, ok := codecs[content.Kind]
	if !ok {
		return types.Content{}, resilience.Errorf(types.ErrorKindValidation, "cannot revise %s content", content.Kind)
	}
	gen, err := generate(ctx, r.Tools, llm.TaskRevise+":"+c.task, systemPrompts[content.Kind],
		revisePrompt(content, feedback, r.BrandVoice), 0.4)
	if err != nil {
		return types.Content{}, err
	}
	return c.decode(c.schema, gen.Text)
}
