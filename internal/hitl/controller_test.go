package hitl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// recordingCheckpointer captures the session status and HITL activity at
// each checkpoint.
type recordingCheckpointer struct {
	sess   *schema.SessionState
	h      *schema.HITLState
	units  []string
	status []schema.SessionStatus
	active []bool
	err    error
}

func (r *recordingCheckpointer) Checkpoint(_ context.Context, unit string) error {
	if r.err != nil {
		return r.err
	}
	r.units = append(r.units, unit)
	r.status = append(r.status, r.sess.Metadata.Status)
	r.active = append(r.active, r.h.Active)
	return nil
}

// promptObserver records the checkpoint count seen when the prompt fires.
type promptObserver struct {
	observe.Nop
	cp         *recordingCheckpointer
	promptedAt []int
	lastPrompt *schema.HITLState
}

func (o *promptObserver) HITLPrompted(_ context.Context, _ string, h *schema.HITLState) {
	o.promptedAt = append(o.promptedAt, len(o.cp.units))
	o.lastPrompt = h
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newSession() *schema.SessionState {
	return &schema.SessionState{Metadata: schema.SessionMetadata{SessionID: "s1", Status: schema.SessionRunning}}
}

func TestPause_PersistsBeforePrompt(t *testing.T) {
	sess := newSession()
	h := &schema.HITLState{StepIndex: schema.IntPtr(1)}
	cp := &recordingCheckpointer{sess: sess, h: h}
	obs := &promptObserver{cp: cp}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c := NewController(obs, WithClock(fixedClock(now)))
	err := c.Pause(context.Background(), sess, cp, h, schema.HITLConfig{Prompt: "Approve?", Default: "yes", TimeoutSeconds: 60}, "draft text")
	require.NoError(t, err)

	assert.Equal(t, []int{1}, obs.promptedAt, "prompt shown only after one durable checkpoint")
	assert.Equal(t, []schema.SessionStatus{schema.SessionPaused}, cp.status)
	assert.Equal(t, []bool{true}, cp.active)
	assert.Equal(t, []string{"step:1"}, cp.units)

	require.NotNil(t, h.TimeoutAt)
	assert.Equal(t, now.Add(time.Minute), *h.TimeoutAt)
	assert.Equal(t, h.TimeoutAt, sess.Metadata.HITLTimeoutAt)
	assert.Equal(t, "draft text", h.ContextDisplay)
	assert.Equal(t, "yes", h.DefaultResponse)
}

func TestPause_CheckpointFailureSuppressesPrompt(t *testing.T) {
	sess := newSession()
	h := &schema.HITLState{NodeID: "gate"}
	cp := &recordingCheckpointer{sess: sess, h: h, err: errors.New("disk full")}
	obs := &promptObserver{cp: cp}

	err := NewController(obs).Pause(context.Background(), sess, cp, h, schema.HITLConfig{Prompt: "ok?"}, "")
	require.Error(t, err)
	assert.Empty(t, obs.promptedAt)
}

func TestResume_WithResponse(t *testing.T) {
	sess := newSession()
	h := &schema.HITLState{TaskID: "review"}
	cp := &recordingCheckpointer{sess: sess, h: h}
	c := NewController(nil)

	require.NoError(t, c.Pause(context.Background(), sess, cp, h, schema.HITLConfig{Prompt: "ok?"}, ""))
	got, err := c.Resume(context.Background(), sess, cp, h, "approved")
	require.NoError(t, err)

	assert.Equal(t, "approved", got)
	assert.False(t, h.Active)
	require.NotNil(t, h.UserResponse)
	assert.Equal(t, "approved", *h.UserResponse)
	assert.Equal(t, schema.SessionRunning, sess.Metadata.Status)
	assert.Equal(t, []bool{true, false}, cp.active, "resolution is checkpointed before returning")
}

func TestResume_NoResponseStillWaiting(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sess := newSession()
	h := &schema.HITLState{StepIndex: schema.IntPtr(0)}
	cp := &recordingCheckpointer{sess: sess, h: h}
	c := NewController(nil, WithClock(fixedClock(now)))

	require.NoError(t, c.Pause(context.Background(), sess, cp, h, schema.HITLConfig{Prompt: "ok?", TimeoutSeconds: 3600}, ""))
	_, err := c.Resume(context.Background(), sess, cp, h, "")

	require.Error(t, err)
	assert.True(t, schema.IsAwaitingInput(err))
	assert.True(t, h.Active)
	assert.Equal(t, schema.SessionPaused, sess.Metadata.Status)
	assert.Len(t, cp.units, 1)
}

func TestResume_TimeoutUsesDefault(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := start
	sess := newSession()
	h := &schema.HITLState{IterationIndex: schema.IntPtr(2)}
	cp := &recordingCheckpointer{sess: sess, h: h}
	c := NewController(nil, WithClock(func() time.Time { return clock }))

	require.NoError(t, c.Pause(context.Background(), sess, cp, h, schema.HITLConfig{Prompt: "ok?", Default: "continue", TimeoutSeconds: 30}, ""))
	clock = start.Add(31 * time.Second)

	got, err := c.Resume(context.Background(), sess, cp, h, "")
	require.NoError(t, err)

	assert.Equal(t, "continue", got)
	assert.True(t, h.TimedOut)
	assert.Nil(t, sess.Metadata.HITLTimeoutAt)
	require.Len(t, sess.Metadata.HITLTimeouts, 1)
	assert.Equal(t, "iteration:2", sess.Metadata.HITLTimeouts[0].Locator)
	assert.Equal(t, "continue", sess.Metadata.HITLTimeouts[0].DefaultResponse)
}

func TestResume_Inactive(t *testing.T) {
	_, err := NewController(nil).Resume(context.Background(), newSession(), &recordingCheckpointer{}, &schema.HITLState{}, "x")
	assert.True(t, schema.IsConfiguration(err))
}

func TestIsEarlyTermination(t *testing.T) {
	for _, s := range []string{"stop", " STOP ", "Abort", "end\n"} {
		assert.True(t, IsEarlyTermination(s), s)
	}
	for _, s := range []string{"", "continue", "stop now", "ended"} {
		assert.False(t, IsEarlyTermination(s), s)
	}
}
