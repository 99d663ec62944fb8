package streaming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

func newTestObserver(t *testing.T) (*Observer, <-chan StreamEvent) {
	t.Helper()
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	t.Cleanup(cancel)

	o := NewObserver(hub)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o.now = func() time.Time { return fixed }
	return o, ch
}

func TestObserver_RunLifecycle(t *testing.T) {
	o, ch := newTestObserver(t)
	ctx := logging.WithSessionID(context.Background(), "s-1")

	o.RunStarted(ctx, observe.RunInfo{SessionID: "s-1", WorkflowName: "demo", PatternType: schema.PatternChain})
	o.InvocationCompleted(ctx, observe.Invocation{SessionID: "s-1", AgentID: "writer", Unit: "step:0", Attempts: 2, Tokens: 7})
	o.Checkpointed(ctx, "s-1", "step:0")
	o.RunFinished(ctx, &schema.RunResult{SessionID: "s-1", Success: true, ExitSignal: schema.ExitSuccess}, nil)

	started := receive(t, ch)
	assert.Equal(t, schema.EventRunStarted, started.Type)
	assert.Equal(t, "demo", started.Payload.(map[string]any)["workflow"])
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), started.Time)

	inv := receive(t, ch)
	assert.Equal(t, schema.EventInvocation, inv.Type)
	assert.Equal(t, "step:0", inv.Unit)
	assert.Equal(t, 2, inv.Payload.(map[string]any)["attempts"])

	assert.Equal(t, schema.EventCheckpoint, receive(t, ch).Type)
	done := receive(t, ch)
	assert.Equal(t, schema.EventRunCompleted, done.Type)
	assert.Equal(t, "s-1", done.SessionID)
}

func TestObserver_PausedAndFailed(t *testing.T) {
	o, ch := newTestObserver(t)
	ctx := logging.WithSessionID(context.Background(), "s-2")

	hitl := &schema.HITLState{Active: true, Prompt: "ok?", NodeID: "review"}
	o.HITLPrompted(ctx, "s-2", hitl)
	o.RunFinished(ctx, &schema.RunResult{SessionID: "s-2", ExitSignal: schema.ExitAwaitingInput, HITL: hitl}, nil)
	o.RunFinished(ctx, nil, schema.NewError(schema.ErrCodeBudgetExceeded, "over"))

	prompted := receive(t, ch)
	assert.Equal(t, schema.EventHITLPrompted, prompted.Type)
	assert.Equal(t, hitl.Locator(), prompted.Unit)

	paused := receive(t, ch)
	assert.Equal(t, schema.EventRunPaused, paused.Type)
	assert.Equal(t, hitl.Locator(), paused.Unit)

	failed := receive(t, ch)
	assert.Equal(t, schema.EventRunFailed, failed.Type)
	assert.Equal(t, "s-2", failed.SessionID, "session comes from the context without a result")
	assert.Equal(t, schema.ErrCodeBudgetExceeded, failed.Payload.(map[string]any)["code"])
}

func TestObserver_WarningsAndCancelledContext(t *testing.T) {
	o, ch := newTestObserver(t)
	ctx, cancel := context.WithCancel(logging.WithSessionID(context.Background(), "s-3"))
	cancel()

	o.BudgetWarning(ctx, 90, 100)
	o.SpecDrift(ctx, "s-3", "aaa", "bbb")
	o.InvocationCompleted(ctx, observe.Invocation{SessionID: "s-3", Err: errors.New("boom")})

	warn := receive(t, ch)
	assert.Equal(t, schema.EventBudgetWarning, warn.Type)
	assert.Equal(t, "s-3", warn.SessionID)
	assert.Equal(t, schema.EventSpecDrift, receive(t, ch).Type)
	assert.Equal(t, "boom", receive(t, ch).Payload.(map[string]any)["error"])
}
