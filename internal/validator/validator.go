// Package validator checks API payloads: JSON schema for request shape and
// struct tags for field constraints.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates submit requests and flow definitions.
type Validator struct {
	submitSchema *jsonschema.Schema
	flowSchema   *jsonschema.Schema
	fields       *playground.Validate
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Error joins the failures into one message.
func (r *ValidationResult) Error() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = e.Path + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	resources := map[string]string{
		"graph.json":  graphSchemaJSON,
		"submit.json": submitSchemaJSON,
		"flow.json":   flowSchemaJSON,
	}
	for name, src := range resources {
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
	}

	submitSchema, err := compiler.Compile("submit.json")
	if err != nil {
		return nil, fmt.Errorf("compile submit schema: %w", err)
	}
	flowSchema, err := compiler.Compile("flow.json")
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	fields := playground.New()
	fields.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		submitSchema: submitSchema,
		flowSchema:   flowSchema,
		fields:       fields,
	}, nil
}

// ValidateSubmitJSON validates a JSON-encoded submit request.
func (v *Validator) ValidateSubmitJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.submitSchema, data)
}

// ValidateFlowJSON validates a JSON-encoded flow definition.
func (v *Validator) ValidateFlowJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.flowSchema, data)
}

// ValidateStruct checks `validate` struct tags on a decoded payload.
func (v *Validator) ValidateStruct(s any) *ValidationResult {
	err := v.fields.Struct(s)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationResult{Errors: []ValidationError{{Path: "$", Message: err.Error()}}}
	}
	result := &ValidationResult{}
	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Path:    fieldPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return result
}

func (v *Validator) validateJSON(schema *jsonschema.Schema, data []byte) *ValidationResult {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}

	err := schema.Validate(doc)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		result.Errors = extractErrors(verr)
	}
	if len(result.Errors) == 0 {
		result.Errors = []ValidationError{{Path: "$", Message: err.Error()}}
	}
	return result
}

// extractErrors flattens the cause tree to its leaves.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	if len(verr.Causes) == 0 {
		path := verr.InstanceLocation
		if path == "" {
			path = "$"
		}
		return []ValidationError{{Path: path, Message: verr.Message}}
	}
	var out []ValidationError
	for _, cause := range verr.Causes {
		out = append(out, extractErrors(cause)...)
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return "/" + strings.ReplaceAll(rest, ".", "/")
	}
	return ns
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	}
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return "failed " + fe.Tag()
}

const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "graph.json",
  "title": "Stage Graph",
  "type": "object",
  "required": ["stages"],
  "properties": {
    "name": {"type": "string"},
    "terminal": {"type": "string"},
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "agent"],
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "agent": {"type": "string", "minLength": 1},
          "depends_on": {"type": "array", "items": {"type": "string"}, "uniqueItems": true},
          "priority": {"type": "integer"},
          "estimated_cost": {"type": "number", "minimum": 0},
          "timeout_seconds": {"type": "number", "minimum": 0},
          "critique": {"type": "boolean"},
          "allow_partial": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

const submitSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "submit.json",
  "title": "Submit Workflow Request",
  "type": "object",
  "required": ["video_ref"],
  "properties": {
    "video_ref": {"type": "string", "minLength": 1},
    "brand_voice": {"type": "string"},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "enable_critique": {"type": "boolean"},
    "track_costs": {"type": "boolean"},
    "quality_threshold": {"type": "number"},
    "max_iterations": {"type": "integer"},
    "mode": {"type": "string"},
    "language": {"type": "string"},
    "max_concurrent_agents": {"type": "integer"},
    "flow": {"type": "string"},
    "graph": {"$ref": "graph.json"}
  },
  "not": {"required": ["flow", "graph"]},
  "additionalProperties": false
}`

const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "flow.json",
  "title": "Flow Definition",
  "type": "object",
  "required": ["id", "graph"],
  "properties": {
    "id": {"type": "string"},
    "description": {"type": "string"},
    "graph": {"$ref": "graph.json"},
    "metadata": {"type": "object"},
    "created_by": {"type": "string"}
  },
  "additionalProperties": false
}`
