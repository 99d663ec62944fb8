package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/internal/agent"
	"github.com/ThomasRohde/strands-cli-sub000/internal/engine"
	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// mockResumer tracks Resume calls.
type mockResumer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (r *mockResumer) Resume(_ context.Context, id, response string) (*schema.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	if err := r.errs[id]; err != nil {
		return nil, err
	}
	return &schema.RunResult{SessionID: id, Success: true, ExitSignal: schema.ExitSuccess}, nil
}

func (r *mockResumer) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var sweepNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func pausedSession(t *testing.T, s store.Store, id string, timeoutAt *time.Time) {
	t.Helper()
	st := &schema.SessionState{Metadata: schema.SessionMetadata{
		SessionID:     id,
		WorkflowName:  "wf",
		PatternType:   schema.PatternChain,
		Status:        schema.SessionPaused,
		CreatedAt:     sweepNow.Add(-time.Hour),
		UpdatedAt:     sweepNow.Add(-time.Hour),
		HITLTimeoutAt: timeoutAt,
	}}
	require.NoError(t, s.Save(context.Background(), st, []byte(`{}`)))
}

func newTestScheduler(t *testing.T, s store.Store, r Resumer) *Scheduler {
	t.Helper()
	sched, err := NewScheduler(s, r, "", logging.Discard(), WithClock(func() time.Time { return sweepNow }))
	require.NoError(t, err)
	return sched
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(t, store.NewMemoryStore(), &mockResumer{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	// Every hour at minute 0.
	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	// Every 15 minutes.
	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	// Invalid expression.
	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)
}

func TestNewScheduler_DefaultAndInvalidSchedule(t *testing.T) {
	sched := newTestScheduler(t, store.NewMemoryStore(), &mockResumer{})
	assert.Equal(t, time.Date(2026, 2, 10, 12, 1, 0, 0, time.UTC), sched.NextRun(sweepNow))

	_, err := NewScheduler(store.NewMemoryStore(), &mockResumer{}, "every minute", logging.Discard())
	assert.True(t, schema.IsConfiguration(err))
}

func TestSweep_ResumesOnlyExpiredPauses(t *testing.T) {
	s := store.NewMemoryStore()
	past := sweepNow.Add(-time.Minute)
	future := sweepNow.Add(time.Hour)
	pausedSession(t, s, "expired", &past)
	pausedSession(t, s, "exactly-now", &sweepNow)
	pausedSession(t, s, "later", &future)
	pausedSession(t, s, "no-deadline", nil)

	r := &mockResumer{}
	report, err := newTestScheduler(t, s, r).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Checked)
	assert.ElementsMatch(t, []string{"expired", "exactly-now"}, report.Resumed)
	assert.Empty(t, report.Failed)
	assert.ElementsMatch(t, []string{"expired", "exactly-now"}, r.called())
}

func TestSweep_IgnoresOtherStatuses(t *testing.T) {
	s := store.NewMemoryStore()
	past := sweepNow.Add(-time.Minute)
	st := &schema.SessionState{Metadata: schema.SessionMetadata{
		SessionID: "done", Status: schema.SessionCompleted, HITLTimeoutAt: &past, UpdatedAt: sweepNow,
	}}
	require.NoError(t, s.Save(context.Background(), st, nil))

	r := &mockResumer{}
	report, err := newTestScheduler(t, s, r).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Empty(t, r.called())
}

func TestSweep_FailureDoesNotStopSweep(t *testing.T) {
	s := store.NewMemoryStore()
	past := sweepNow.Add(-time.Minute)
	pausedSession(t, s, "a", &past)
	pausedSession(t, s, "b", &past)

	r := &mockResumer{errs: map[string]error{"a": errors.New("provider down")}}
	report, err := newTestScheduler(t, s, r).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Failed)
	assert.Equal(t, []string{"b"}, report.Resumed)
}

func TestSweep_SkipsInflightSession(t *testing.T) {
	s := store.NewMemoryStore()
	past := sweepNow.Add(-time.Minute)
	pausedSession(t, s, "busy", &past)

	r := &mockResumer{}
	sched := newTestScheduler(t, s, r)
	require.True(t, sched.tryAcquire("busy"))

	report, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Resumed)
	assert.Empty(t, r.called())

	sched.releaseSession("busy")
	report, err = sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"busy"}, report.Resumed)
}

func TestSweep_AppliesDefaultThroughEngine(t *testing.T) {
	s := store.NewMemoryStore()
	now := sweepNow
	clock := func() time.Time { return now }

	var prompts []string
	var mu sync.Mutex
	factory := agent.FactoryFunc(func(_ context.Context, req agent.Request) (agent.Invoker, error) {
		return agent.InvokerFunc(func(_ context.Context, prompt string) (string, error) {
			mu.Lock()
			prompts = append(prompts, prompt)
			mu.Unlock()
			return req.AgentID + " done", nil
		}), nil
	})
	runner, err := engine.NewRunner(factory, engine.WithStore(s), engine.WithLogger(logging.Discard()), engine.WithClock(clock))
	require.NoError(t, err)

	spec := &schema.Spec{
		Name:    "sweep",
		Runtime: schema.Runtime{Provider: agent.ProviderEcho},
		Agents:  map[string]schema.AgentConfig{"writer": {Prompt: "You write."}},
		Pattern: schema.Pattern{Type: schema.PatternChain, Chain: &schema.ChainConfig{Steps: []schema.Step{
			{Type: schema.StepKindHITL, HITLConfig: schema.HITLConfig{Prompt: "Tone?", Default: "formal", TimeoutSeconds: 30}},
			{Agent: "writer", Input: "Write in a ${{ hitl_response }} tone"},
		}}},
	}
	res, err := runner.Run(context.Background(), spec, nil, engine.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, schema.ExitAwaitingInput, res.ExitSignal)

	sched, err := NewScheduler(s, runner, "", logging.Discard(), WithClock(clock))
	require.NoError(t, err)

	// Not expired yet.
	report, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Resumed)

	now = now.Add(time.Minute)
	report, err = sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{res.SessionID}, report.Resumed)

	st, err := s.Load(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, schema.SessionCompleted, st.Metadata.Status)
	require.Len(t, st.Metadata.HITLTimeouts, 1)
	assert.Equal(t, "formal", st.Metadata.HITLTimeouts[0].DefaultResponse)
	assert.Equal(t, []string{"Write in a formal tone"}, prompts)
}

func TestStartStop(t *testing.T) {
	s := store.NewMemoryStore()
	past := sweepNow.Add(-time.Minute)
	pausedSession(t, s, "boot", &past)

	r := &mockResumer{}
	sched := newTestScheduler(t, s, r)
	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()), "double start")

	assert.Eventually(t, func() bool { return len(r.called()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop(), "stop is idempotent")
}
