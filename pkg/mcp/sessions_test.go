package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "client-abc")
	sid, ok := r.SessionFor("run-1")
	assert.True(t, ok)
	assert.Equal(t, "client-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Overwrite(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "client-old")
	r.Register("run-1", "client-new")

	sid, ok := r.SessionFor("run-1")
	assert.True(t, ok)
	assert.Equal(t, "client-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "client-abc")
	r.Register("run-2", "client-abc")
	r.Register("run-3", "client-xyz")

	r.Remove("client-abc")

	_, ok := r.SessionFor("run-1")
	assert.False(t, ok, "run-1 should be removed")

	_, ok = r.SessionFor("run-2")
	assert.False(t, ok, "run-2 should be removed")

	sid, ok := r.SessionFor("run-3")
	assert.True(t, ok, "run-3 should still exist")
	assert.Equal(t, "client-xyz", sid)
}

func TestSessionRegistry_Forget(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run-1", "client-1")
	r.Register("run-2", "client-1")
	r.Forget("run-1")

	_, ok := r.SessionFor("run-1")
	assert.False(t, ok)
	sid, ok := r.SessionFor("run-2")
	assert.True(t, ok)
	assert.Equal(t, "client-1", sid)
}
