package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type stepRecord struct {
	Index    int    `json:"index"`
	Agent    string `json:"agent"`
	Response string `json:"response"`
}

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()
	data := map[string]any{
		"topic": "Go",
		"count": 3,
		"steps": []stepRecord{{Index: 0, Agent: "writer", Response: "draft one"}},
		"tasks": map[string]any{"research": map[string]any{"response": "facts"}},
		"empty": nil,
	}

	tests := []struct {
		name, tmpl, want string
	}{
		{"no placeholders", "plain text", "plain text"},
		{"bare identifier", "Write about ${{ topic }}.", "Write about Go."},
		{"dotted path", "${{ .topic }}", "Go"},
		{"indexed path", "Prior: ${{ steps[0].response }}", "Prior: draft one"},
		{"nested map", "${{ tasks.research.response }}", "facts"},
		{"number as json", "n=${{ count }}", "n=3"},
		{"null renders empty", "[${{ empty }}]", "[]"},
		{"missing key renders empty", "[${{ .nope }}]", "[]"},
		{"jq pipeline", "${{ topic | ascii_upcase }}", "GO"},
		{"object as json", "${{ steps[0] | {agent} }}", `{"agent":"writer"}`},
		{"multiple placeholders", "${{topic}}-${{count}}", "Go-3"},
		{"multiple outputs", "${{ steps[] | .agent, .response }}", "writer\ndraft one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(context.Background(), tt.tmpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderer_SyntaxErrors(t *testing.T) {
	r := NewRenderer()
	for _, tmpl := range []string{
		"${{ topic",
		"${{ }}",
		"${{ .a | | }}",
		"${{ ${{ x }} }}",
	} {
		_, err := r.Render(context.Background(), tmpl, map[string]any{"topic": "x"})
		require.Error(t, err, tmpl)
		assert.True(t, schema.IsCode(err, schema.ErrCodeTemplate), tmpl)
	}
}

func TestRenderer_Check(t *testing.T) {
	r := NewRenderer()
	assert.NoError(t, r.Check("Hello ${{ topic }} and ${{ steps[0].response }}", "topic", "steps"))
	assert.Error(t, r.Check("${{ .a | | }}"))
	assert.Error(t, r.Check("${{ unclosed"))
}

func TestPathify(t *testing.T) {
	data := map[string]any{"topic": 1, "steps": 1}
	assert.Equal(t, ".topic", pathify("topic", data))
	assert.Equal(t, ".steps[0]", pathify("steps[0]", data))
	assert.Equal(t, "length", pathify("length", data))
	assert.Equal(t, ".x", pathify(".x", data))
	assert.Equal(t, `"lit"`, pathify(`"lit"`, data))
}
