package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/internal/expressions"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
	"github.com/go-playground/validator/v10"
)

// SpecValidator orchestrates the three-stage validation pipeline run before
// any agent is invoked:
// 1. Structural (struct tags, pattern union shape)
// 2. Semantic (agent refs, ids, templates, conditions, HITL placement)
// 3. DAG (dependency cycles, one HITL task per layer, graph reachability)
type SpecValidator struct {
	validate *validator.Validate
	renderer *expressions.Renderer
	cel      *expressions.CELEngine
	expr     *expressions.ExprEngine
}

// NewSpecValidator creates a SpecValidator.
func NewSpecValidator() (*SpecValidator, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)

	return &SpecValidator{
		validate: v,
		renderer: expressions.NewRenderer(),
		cel:      celEngine,
		expr:     expressions.NewExprEngine(),
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result. vars are
// the caller variables the templates may reference besides inputs.values.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (v *SpecValidator) Validate(spec *schema.Spec, vars map[string]any) *schema.ValidationResult {
	if spec == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeConfiguration, "spec is nil")
		return r
	}

	// Stage 1: Structural.
	result := v.validateStructural(spec)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(v.validateSemantic(spec, vars))

	// Stage 3: DAG (skip if semantic errors, references may dangle).
	if result.Valid() {
		result.Merge(validateDAG(spec))
	}

	return result
}

// ValidateSpec runs Validate and converts the result into an error.
func (v *SpecValidator) ValidateSpec(spec *schema.Spec, vars map[string]any) error {
	return v.Validate(spec, vars).ToError()
}

// validateStructural checks struct tags and the pattern union.
func (v *SpecValidator) validateStructural(spec *schema.Spec) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if err := spec.Pattern.Validate(); err != nil {
		result.AddError("pattern", schema.ErrCodeConfiguration, messageOf(err))
		return result
	}

	err := v.validate.Struct(spec)
	if err == nil {
		return result
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.AddError("/", schema.ErrCodeConfiguration, err.Error())
		return result
	}
	for _, fe := range fieldErrs {
		result.AddError(fieldPath(fe), schema.ErrCodeConfiguration, describeField(fe))
	}
	return result
}

// fieldName reports struct fields by their JSON names so issue paths match
// the spec document. Pattern variants surface as "config".
func fieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch {
	case name == "-":
		return ""
	case name != "":
		return name
	case fld.Anonymous:
		return ""
	case fld.Type.Kind() == reflect.Pointer:
		return "config"
	default:
		return strings.ToLower(fld.Name)
	}
}

// fieldPath drops the root type name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ReplaceAll(ns, "HITLConfig.", "")
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// messageOf returns the bare message of a structured error.
func messageOf(err error) string {
	var e *schema.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
