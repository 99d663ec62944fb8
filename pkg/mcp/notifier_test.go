package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type sentNotification struct {
	clientID string
	method   string
	params   map[string]any
}

type fakeClient struct {
	sent []sentNotification
	err  error
}

func (f *fakeClient) SendNotificationToSpecificClient(clientID, method string, params map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{clientID: clientID, method: method, params: params})
	return nil
}

func pausedAt(step int) *schema.HITLState {
	timeout := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &schema.HITLState{Active: true, Prompt: "Approve?", StepIndex: &step, TimeoutAt: &timeout}
}

func TestHITLNotifier_SendsToOwningClient(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Register("run-1", "client-1")
	client := &fakeClient{}

	n := NewHITLNotifier(reg, logging.Discard())
	n.Bind(client)
	n.HITLPrompted(context.Background(), "run-1", pausedAt(2))

	require.Len(t, client.sent, 1)
	got := client.sent[0]
	assert.Equal(t, "client-1", got.clientID)
	assert.Equal(t, "notifications/message", got.method)
	data, ok := got.params["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", data["session_id"])
	assert.Equal(t, "step:2", data["locator"])
	assert.Equal(t, "Approve?", data["prompt"])
	assert.Contains(t, data, "timeout_at")
}

func TestHITLNotifier_BestEffort(t *testing.T) {
	reg := NewSessionRegistry()
	client := &fakeClient{}
	n := NewHITLNotifier(reg, logging.Discard())

	// Unbound: dropped.
	reg.Register("run-1", "client-1")
	n.HITLPrompted(context.Background(), "run-1", pausedAt(0))
	assert.Empty(t, client.sent)

	// No owning client: dropped.
	n.Bind(client)
	n.HITLPrompted(context.Background(), "run-2", pausedAt(0))
	assert.Empty(t, client.sent)

	// Transport errors are logged, not raised.
	client.err = errors.New("write failed")
	n.HITLPrompted(context.Background(), "run-1", pausedAt(0))
	_, ok := reg.SessionFor("run-1")
	assert.True(t, ok)
}

func TestHITLNotifier_GoneClientIsForgotten(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Register("run-1", "client-1")
	reg.Register("run-2", "client-1")
	n := NewHITLNotifier(reg, logging.Discard())
	n.Bind(&fakeClient{err: server.ErrSessionNotFound})

	n.HITLPrompted(context.Background(), "run-1", pausedAt(0))

	_, ok := reg.SessionFor("run-1")
	assert.False(t, ok)
	_, ok = reg.SessionFor("run-2")
	assert.False(t, ok)
}

func TestHITLNotifier_RunFinished(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Register("paused", "client-1")
	reg.Register("done", "client-1")
	n := NewHITLNotifier(reg, logging.Discard())

	n.RunFinished(context.Background(), &schema.RunResult{SessionID: "paused", ExitSignal: schema.ExitAwaitingInput}, nil)
	n.RunFinished(context.Background(), &schema.RunResult{SessionID: "done", ExitSignal: schema.ExitSuccess}, nil)
	n.RunFinished(context.Background(), nil, errors.New("spec is nil"))

	_, ok := reg.SessionFor("paused")
	assert.True(t, ok, "a paused run can still prompt after resume")
	_, ok = reg.SessionFor("done")
	assert.False(t, ok)
}
