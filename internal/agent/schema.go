package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	invschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/llm"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/resilience"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// outputSchema validates model output against the payload type it decodes into.
type outputSchema struct {
	name   string
	raw    string
	schema *jsonschema.Schema
}

// reflectSchema derives a JSON schema from v's struct tags. Fields without
// omitempty are required.
func reflectSchema(name string, v any) *outputSchema {
	r := &invschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	b, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("reflect schema %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(b))); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	s, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return &outputSchema{name: name, raw: string(b), schema: s}
}

// decode cleans, validates and unmarshals model text into out.
func (s *outputSchema) decode(text string, out any) error {
	clean := llm.CleanJSONBlock(text)
	var doc any
	if err := json.Unmarshal([]byte(clean), &doc); err != nil {
		return resilience.Errorf(types.ErrorKindValidation, "%s output is not JSON: %v", s.name, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return resilience.Errorf(types.ErrorKindValidation, "%s output failed schema: %v", s.name, err)
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return resilience.Errorf(types.ErrorKindValidation, "decode %s output: %v", s.name, err)
	}
	return nil
}

var (
	analysisSchema   = reflectSchema("analysis", &types.ContentAnalysis{})
	productSchema    = reflectSchema("product", &types.ProductDetection{})
	seoSchema        = reflectSchema("seo", &types.SEOAnalysis{})
	socialSchema     = reflectSchema("social", &types.SocialContent{})
	scriptSchema     = reflectSchema("script", &types.ScriptContent{})
	newsletterSchema = reflectSchema("newsletter", &types.NewsletterContent{})
	blogSchema       = reflectSchema("blog", &types.BlogPost{})
	critiqueSchema   = reflectSchema("critique", &types.Assessment{})
)

// codec ties a content kind to its model task, schema and union wrapper.
type codec struct {
	task   string
	schema *outputSchema
	decode func(s *outputSchema, text string) (types.Content, error)
}

func decodeInto[T any](wrap func(*T) types.Content) func(*outputSchema, string) (types.Content, error) {
	return func(s *outputSchema, text string) (types.Content, error) {
		v := new(T)
		if err := s.decode(text, v); err != nil {
			return types.Content{}, err
		}
		return wrap(v), nil
	}
}

var codecs = map[types.ContentKind]codec{
	types.KindAnalysis: {llm.TaskAnalysis, analysisSchema, decodeInto(func(v *types.ContentAnalysis) types.Content {
		return types.Content{Kind: types.KindAnalysis, Analysis: v}
	})},
	types.KindProduct: {llm.TaskProduct, productSchema, decodeInto(func(v *types.ProductDetection) types.Content {
		return types.Content{Kind: types.KindProduct, Product: v}
	})},
	types.KindSEO: {llm.TaskSEO, seoSchema, decodeInto(func(v *types.SEOAnalysis) types.Content {
		return types.Content{Kind: types.KindSEO, SEO: v}
	})},
	types.KindSocial: {llm.TaskSocial, socialSchema, decodeInto(func(v *types.SocialContent) types.Content {
		return types.Content{Kind: types.KindSocial, Social: v}
	})},
	types.KindScript: {llm.TaskScript, scriptSchema, decodeInto(func(v *types.ScriptContent) types.Content {
		return types.Content{Kind: types.KindScript, Script: v}
	})},
	types.KindNewsletter: {llm.TaskNewsletter, newsletterSchema, decodeInto(func(v *types.NewsletterContent) types.Content {
		return types.Content{Kind: types.KindNewsletter, Newsletter: v}
	})},
	types.KindBlog: {llm.TaskBlog, blogSchema, decodeInto(func(v *types.BlogPost) types.Content {
		return types.Content{Kind: types.KindBlog, Blog: v}
	})},
}

// DecodeContent parses model output for a content kind.
func DecodeContent(kind types.ContentKind, text string) (types.Content, error) {
	c, ok := codecs[kind]
	if !ok {
		return types.Content{}, resilience.Errorf(types.ErrorKindValidation, "no decoder for content kind %q", kind)
	}
	return c.decode(c.schema, text)
}
