package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to schema.SessionStatus
		ok       bool
	}{
		{schema.SessionRunning, schema.SessionPaused, true},
		{schema.SessionPaused, schema.SessionRunning, true},
		{schema.SessionRunning, schema.SessionCompleted, true},
		{schema.SessionRunning, schema.SessionFailed, true},
		{schema.SessionPaused, schema.SessionFailed, true},
		{schema.SessionPaused, schema.SessionPaused, true},
		{schema.SessionPaused, schema.SessionCompleted, false},
		{schema.SessionCompleted, schema.SessionRunning, false},
		{schema.SessionFailed, schema.SessionRunning, false},
		{schema.SessionCompleted, schema.SessionFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			st := &schema.SessionState{Metadata: schema.SessionMetadata{SessionID: "s", Status: tt.from}}
			now := time.Now()
			err := Transition(st, tt.to, now)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, st.Metadata.Status)
				assert.Equal(t, now, st.Metadata.UpdatedAt)
				return
			}
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
			assert.Equal(t, tt.from, st.Metadata.Status)
		})
	}
}

func TestSpecHash(t *testing.T) {
	a := &schema.Spec{Name: "x", Agents: map[string]schema.AgentConfig{"a": {Prompt: "p"}, "b": {Prompt: "q"}},
		Pattern: schema.Pattern{Type: schema.PatternChain, Chain: &schema.ChainConfig{Steps: []schema.Step{{Agent: "a"}}}}}
	b := &schema.Spec{Name: "x", Agents: map[string]schema.AgentConfig{"b": {Prompt: "q"}, "a": {Prompt: "p"}},
		Pattern: schema.Pattern{Type: schema.PatternChain, Chain: &schema.ChainConfig{Steps: []schema.Step{{Agent: "a"}}}}}

	ha, err := SpecHash(a)
	require.NoError(t, err)
	hb, err := SpecHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	b.Agents["a"] = schema.AgentConfig{Prompt: "changed"}
	hc, err := SpecHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)

	st := &schema.SessionState{Metadata: schema.SessionMetadata{SpecHash: ha}}
	assert.False(t, Drifted(st, ha))
	assert.True(t, Drifted(st, hc))
	assert.False(t, Drifted(&schema.SessionState{}, hc))
}
