package engine

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/internal/validation"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// extractJSON pulls structured output out of free text, trying in order:
// the whole response, the first fenced code block, then the first balanced
// span opened by open whose text contains marker (any span when marker is
// empty). accept decides whether a decoded value has the wanted shape.
func extractJSON(text string, open byte, marker string, accept func(any) bool) (any, bool) {
	try := func(s string) (any, bool) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
			return nil, false
		}
		return v, accept(v)
	}

	if v, ok := try(text); ok {
		return v, true
	}
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if v, ok := try(m[1]); ok {
			return v, true
		}
	}
	for start := strings.IndexByte(text, open); start >= 0; {
		if span, ok := balancedSpan(text[start:], open); ok && (marker == "" || strings.Contains(span, marker)) {
			if v, ok := try(span); ok {
				return v, true
			}
		}
		next := strings.IndexByte(text[start+1:], open)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// balancedSpan returns the prefix of s from its opening bracket up to the
// matching close, skipping brackets inside JSON strings.
func balancedSpan(s string, open byte) (string, bool) {
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func isObjectOrArray(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// Evaluation is the evaluator's structured verdict on a draft.
type Evaluation struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
	Fixes  []string `json:"fixes"`
}

// parseEvaluation extracts and validates an evaluation object. Numeric
// strings are accepted for score.
func parseEvaluation(outputs *validation.OutputValidator, text string) (*Evaluation, error) {
	v, ok := extractJSON(text, '{', `"score"`, isObject)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeMalformedResponse, "evaluator response contains no JSON object with a score")
	}
	obj := v.(map[string]any)
	if s, ok := obj["score"].(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			obj["score"] = f
		}
	}
	if err := outputs.Validate(validation.OutputEvaluation, obj); err != nil {
		return nil, err
	}

	eval := &Evaluation{Score: obj["score"].(float64), Issues: []string{}, Fixes: []string{}}
	eval.Issues = append(eval.Issues, stringSlice(obj["issues"])...)
	eval.Fixes = append(eval.Fixes, stringSlice(obj["fixes"])...)
	return eval, nil
}

// Subtask is one unit of orchestrator-decomposed work.
type Subtask struct {
	Task string `json:"task"`
}

// parseDecomposition extracts the orchestrator's subtask list. A single
// object counts as a one-element list; an empty list is valid.
func parseDecomposition(outputs *validation.OutputValidator, text string) ([]Subtask, error) {
	v, ok := extractJSON(text, '[', "", isObjectOrArray)
	if !ok {
		v, ok = extractJSON(text, '{', "", isObject)
	}
	if !ok {
		return nil, schema.NewError(schema.ErrCodeMalformedResponse, "orchestrator response contains no JSON array of subtasks")
	}
	items, isArray := v.([]any)
	if !isArray {
		items = []any{v}
	}
	if err := outputs.Validate(validation.OutputDecomposition, items); err != nil {
		return nil, err
	}

	subtasks := make([]Subtask, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			subtasks = append(subtasks, Subtask{Task: it})
		case map[string]any:
			text, _ := it["task"].(string)
			if text == "" {
				text, _ = it["description"].(string)
			}
			subtasks = append(subtasks, Subtask{Task: text})
		}
	}
	return subtasks, nil
}

// parseRoute extracts {"route": name} and requires name to be a declared route.
func parseRoute(outputs *validation.OutputValidator, text string, routes []string) (string, error) {
	v, ok := extractJSON(text, '{', `"route"`, isObject)
	if !ok {
		return "", schema.NewError(schema.ErrCodeMalformedResponse, "router response contains no JSON object with a route")
	}
	if err := outputs.ValidateRoute(v, routes); err != nil {
		return "", err
	}
	return v.(map[string]any)["route"].(string), nil
}

func stringSlice(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
