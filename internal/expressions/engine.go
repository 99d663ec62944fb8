package expressions

import (
	"context"
	"fmt"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Engine evaluates one expression language against a data map.
// CEL and Expr decide graph edges; GoJQ powers template rendering.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler is implemented by engines that can check an expression without
// evaluating it, so bad conditions surface during validation.
type Compiler interface {
	Compile(expression string) error
}

// EvaluateBool evaluates a condition. Non-boolean results are errors.
func EvaluateBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodePermanent,
			"%s condition %q returned %s, want bool", e.Name(), expression, typeName(out)).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

// ForLanguage returns the condition engine for a graph's condition_language.
func ForLanguage(lang string) (Engine, error) {
	switch lang {
	case "", "cel":
		return NewCELEngine()
	case "expr":
		return NewExprEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "unknown condition language %q", lang)
	}
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
