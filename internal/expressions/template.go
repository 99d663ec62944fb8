package expressions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Renderer expands ${{ expr }} placeholders, where expr is a jq expression
// over the execution context. A bare leading identifier that names a
// context key is treated as a path, so ${{ topic }} and
// ${{ steps[0].response }} work without the leading dot.
//
// Strings are inserted verbatim, null renders as "", everything else is
// inserted as compact JSON. Multiple jq outputs are joined by newlines. Syntax errors are TEMPLATE_ERROR and fatal.
type Renderer struct {
	jq *GoJQEngine
}

// NewRenderer creates a Renderer backed by a fresh jq engine.
func NewRenderer() *Renderer {
	return &Renderer{jq: NewGoJQEngine()}
}

// Render expands tmpl against data.
func (r *Renderer) Render(ctx context.Context, tmpl string, data map[string]any) (string, error) {
	if !strings.Contains(tmpl, "${{") {
		return tmpl, nil
	}
	input, err := Normalize(data)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTemplate, "context is not JSON-serializable: %s", err.Error()).WithCause(err)
	}

	var out strings.Builder
	out.Grow(len(tmpl))
	rest := tmpl
	for {
		idx := strings.Index(rest, "${{")
		if idx == -1 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:idx])
		body := rest[idx+3:]

		end := strings.Index(body, "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeTemplate, "unclosed ${{ expression")
		}
		expr := strings.TrimSpace(body[:end])
		if expr == "" {
			return "", schema.NewError(schema.ErrCodeTemplate, "empty ${{ }} expression")
		}
		if strings.Contains(expr, "${{") {
			return "", schema.NewError(schema.ErrCodeTemplate, "nested ${{ expressions are not allowed")
		}

		vals, err := r.jq.EvaluateAll(ctx, pathify(expr, input), input)
		if err != nil {
			return "", err
		}
		for i, v := range vals {
			if i > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(inline(v))
		}
		rest = body[end+2:]
	}
	return out.String(), nil
}

// Check parses every placeholder in tmpl without evaluating it.
func (r *Renderer) Check(tmpl string, keys ...string) error {
	known := make(map[string]any, len(keys))
	for _, k := range keys {
		known[k] = nil
	}
	rest := tmpl
	for {
		idx := strings.Index(rest, "${{")
		if idx == -1 {
			return nil
		}
		body := rest[idx+3:]
		end := strings.Index(body, "}}")
		if end == -1 {
			return schema.NewError(schema.ErrCodeTemplate, "unclosed ${{ expression")
		}
		expr := strings.TrimSpace(body[:end])
		if expr == "" {
			return schema.NewError(schema.ErrCodeTemplate, "empty ${{ }} expression")
		}
		if err := r.jq.Compile(pathify(expr, known)); err != nil {
			return err
		}
		rest = body[end+2:]
	}
}

// pathify prefixes "." when the expression starts with an identifier that
// is a key of the context.
func pathify(expr string, data map[string]any) string {
	i := 0
	for i < len(expr) && isIdent(expr[i], i == 0) {
		i++
	}
	if i == 0 {
		return expr
	}
	if _, ok := data[expr[:i]]; ok {
		return "." + expr
	}
	return expr
}

func isIdent(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	default:
		return false
	}
}

func inline(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Normalize converts a context built from Go values into the plain
// map/slice/float64 shapes jq operates on.
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
