package validation

import (
	"sync"
	"testing"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutputValidator(t *testing.T) *OutputValidator {
	t.Helper()
	v, err := NewOutputValidator()
	require.NoError(t, err)
	return v
}

func TestOutputValidator_Evaluation(t *testing.T) {
	v := newOutputValidator(t)

	assert.NoError(t, v.Validate(OutputEvaluation, map[string]any{
		"score": 85, "issues": []string{"tone"}, "fixes": []string{"soften"},
	}))
	assert.NoError(t, v.Validate(OutputEvaluation, map[string]any{"score": 72.5}))

	err := v.Validate(OutputEvaluation, map[string]any{"score": 140})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedResponse))

	err = v.Validate(OutputEvaluation, map[string]any{"issues": "not-a-list"})
	require.Error(t, err)
	var e *schema.Error
	require.ErrorAs(t, err, &e)
	violations, ok := e.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestOutputValidator_Decomposition(t *testing.T) {
	v := newOutputValidator(t)

	assert.NoError(t, v.Validate(OutputDecomposition, []any{}))
	assert.NoError(t, v.Validate(OutputDecomposition, []any{"research", map[string]any{"task": "draft"}}))
	assert.NoError(t, v.Validate(OutputDecomposition, []any{map[string]any{"description": "review"}}))

	assert.Error(t, v.Validate(OutputDecomposition, []any{map[string]any{"other": 1}}))
	assert.Error(t, v.Validate(OutputDecomposition, []any{""}))
	assert.Error(t, v.Validate(OutputDecomposition, map[string]any{"task": "x"}))
}

func TestOutputValidator_Route(t *testing.T) {
	v := newOutputValidator(t)
	routes := []string{"billing", "faq"}

	assert.NoError(t, v.ValidateRoute(map[string]any{"route": "faq"}, routes))
	assert.Error(t, v.ValidateRoute(map[string]any{"route": "sales"}, routes))
	assert.Error(t, v.ValidateRoute(map[string]any{"choice": "faq"}, routes))
	assert.NoError(t, v.ValidateRoute(map[string]any{"route": "anything"}, nil))
}

func TestOutputValidator_UnknownKind(t *testing.T) {
	err := newOutputValidator(t).Validate("summary", map[string]any{})
	assert.True(t, schema.IsConfiguration(err))
}

func TestOutputValidator_ConcurrentRouteCache(t *testing.T) {
	v := newOutputValidator(t)
	routes := []string{"a", "b"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateRoute(map[string]any{"route": "a"}, routes))
		}()
	}
	wg.Wait()
	assert.Len(t, v.cache, 1)
}
