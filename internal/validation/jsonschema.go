package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// OutputKind names a structured agent output shape.
type OutputKind string

const (
	OutputEvaluation    OutputKind = "evaluation"
	OutputDecomposition OutputKind = "decomposition"
	OutputRoute         OutputKind = "route"
)

const schemaBaseURL = "https://strands.dev/schemas/"

// evaluationSchemaJSON is the shape evaluators must return.
const evaluationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["score"],
  "properties": {
    "score": { "type": "number", "minimum": 0, "maximum": 100 },
    "issues": { "type": "array", "items": { "type": "string" } },
    "fixes": { "type": "array", "items": { "type": "string" } }
  }
}`

// decompositionSchemaJSON is the shape orchestrators must return once a
// single object has been normalized into a one-element array.
const decompositionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "oneOf": [
      { "type": "string", "minLength": 1 },
      {
        "type": "object",
        "anyOf": [
          { "required": ["task"] },
          { "required": ["description"] }
        ],
        "properties": {
          "task": { "type": "string", "minLength": 1 },
          "description": { "type": "string", "minLength": 1 }
        }
      }
    ]
  }
}`

// routeSchemaJSON is the shape routers must return. The route enum is
// added per spec by routeSchema.
const routeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["route"],
  "properties": {
    "route": { "type": "string", "minLength": 1 }
  }
}`

// OutputValidator checks parsed agent output against the structured shapes
// the engine consumes. It is safe for concurrent use.
type OutputValidator struct {
	fixed map[OutputKind]*jsonschema.Schema

	// mu guards the per-route-set schema cache.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewOutputValidator compiles the fixed output schemas.
func NewOutputValidator() (*OutputValidator, error) {
	v := &OutputValidator{
		fixed: make(map[OutputKind]*jsonschema.Schema, 3),
		cache: make(map[string]*jsonschema.Schema),
	}
	for kind, src := range map[OutputKind]string{
		OutputEvaluation:    evaluationSchemaJSON,
		OutputDecomposition: decompositionSchemaJSON,
		OutputRoute:         routeSchemaJSON,
	} {
		compiled, err := compileSchema(schemaBaseURL+string(kind)+".json", src)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		v.fixed[kind] = compiled
	}
	return v, nil
}

// Validate checks value against the schema for kind. Failures are
// MALFORMED_RESPONSE errors listing every violation.
func (v *OutputValidator) Validate(kind OutputKind, value any) error {
	compiled, ok := v.fixed[kind]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "unknown output kind %q", kind)
	}
	return validateValue(compiled, kind, value)
}

// ValidateRoute checks a router decision and additionally requires the
// chosen route to be one of routes.
func (v *OutputValidator) ValidateRoute(value any, routes []string) error {
	if len(routes) == 0 {
		return v.Validate(OutputRoute, value)
	}
	compiled, err := v.routeSchema(routes)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfiguration, "invalid route schema").WithCause(err)
	}
	return validateValue(compiled, OutputRoute, value)
}

// routeSchema returns a cached schema constraining "route" to routes.
func (v *OutputValidator) routeSchema(routes []string) (*jsonschema.Schema, error) {
	enum, err := json.Marshal(routes)
	if err != nil {
		return nil, err
	}
	key := string(enum)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	src := fmt.Sprintf(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["route"],
  "properties": { "route": { "type": "string", "enum": %s } }
}`, key)
	url := fmt.Sprintf("%sroute/%d.json", schemaBaseURL, len(v.cache))
	compiled, err := compileSchema(url, src)
	if err != nil {
		return nil, err
	}
	v.cache[key] = compiled
	return compiled, nil
}

// compileSchema compiles src under url with a fresh compiler so dynamic
// schemas never collide.
func compileSchema(url, src string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

func validateValue(compiled *jsonschema.Schema, kind OutputKind, value any) error {
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeMalformedResponse, "%s output is not JSON-serializable", kind).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toMalformedError(kind, err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toMalformedError converts a jsonschema.ValidationError into a
// MALFORMED_RESPONSE error whose message can be fed back to the agent.
func toMalformedError(kind OutputKind, err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewErrorf(schema.ErrCodeMalformedResponse, "%s output: %s", kind, err.Error())
	}

	violations := collectViolations(verr)
	msg := fmt.Sprintf("%s output does not match the expected shape", kind)
	if len(violations) == 1 {
		msg = fmt.Sprintf("%s output: %s", kind, violations[0])
	}
	return schema.NewError(schema.ErrCodeMalformedResponse, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
