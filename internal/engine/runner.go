package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ThomasRohde/strands-cli-sub000/internal/agent"
	"github.com/ThomasRohde/strands-cli-sub000/internal/expressions"
	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/internal/validation"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// RunOptions selects a session to continue and supplies a pending human
// response. An empty SessionID starts a new session.
type RunOptions struct {
	SessionID    string
	HITLResponse string
}

// Runner executes specs, checkpointing every unit of work to a session store.
// A Runner is safe for concurrent use across different sessions.
type Runner struct {
	store       store.Store
	factory     agent.Factory
	observer    observe.Observer
	logger      *slog.Logger
	breakers    *BreakerRegistry
	validator   *validation.SpecValidator
	outputs     *validation.OutputValidator
	renderer    *expressions.Renderer
	now         func() time.Time
	maxParallel int
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore sets the session store. Defaults to an in-memory store.
func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithObserver sets the telemetry observer.
func WithObserver(o observe.Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithBreakerConfig overrides the per-agent circuit breaker settings.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(r *Runner) { r.breakers = NewBreakerRegistry(cfg) }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithMaxParallel caps fan-out when the spec leaves runtime.max_parallel unset.
func WithMaxParallel(n int) Option {
	return func(r *Runner) { r.maxParallel = n }
}

// NewRunner creates a Runner that builds agents through factory.
func NewRunner(factory agent.Factory, opts ...Option) (*Runner, error) {
	if factory == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "agent factory is nil")
	}
	sv, err := validation.NewSpecValidator()
	if err != nil {
		return nil, err
	}
	ov, err := validation.NewOutputValidator()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		factory:   factory,
		validator: sv,
		outputs:   ov,
		renderer:  expressions.NewRenderer(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = store.NewMemoryStore()
	}
	if r.observer == nil {
		r.observer = observe.Nop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.breakers == nil {
		r.breakers = NewBreakerRegistry(DefaultBreakerConfig())
	}
	return r, nil
}

// Store returns the session store the runner checkpoints to.
func (r *Runner) Store() store.Store { return r.store }

// Resume continues a stored session using the spec captured when it was
// created.
func (r *Runner) Resume(ctx context.Context, sessionID, hitlResponse string) (*schema.RunResult, error) {
	snap, err := r.store.LoadSpecSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var spec schema.Spec
	if err := json.Unmarshal(snap, &spec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode spec snapshot for %s: %s", sessionID, err.Error()).WithCause(err)
	}
	return r.Run(ctx, &spec, nil, RunOptions{SessionID: sessionID, HITLResponse: hitlResponse})
}

// Run executes spec, or continues the session named in opts. Configuration
// problems are reported before any agent is invoked. A paused run returns a
// result with exit signal awaiting_input and no error. Every other failure
// returns both the result and the error.
func (r *Runner) Run(ctx context.Context, spec *schema.Spec, vars map[string]any, opts RunOptions) (*schema.RunResult, error) {
	if spec == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "spec is nil")
	}
	result := &schema.RunResult{
		PatternType: spec.Pattern.Type,
		SessionID:   opts.SessionID,
		StartedAt:   r.now().UTC(),
	}

	var (
		sess    *schema.SessionState
		resumed bool
	)
	if opts.SessionID != "" {
		loaded, err := r.store.Load(ctx, opts.SessionID)
		switch {
		case err == nil:
			sess, resumed = loaded, true
		case !schema.IsCode(err, schema.ErrCodeNotFound):
			return r.finish(ctx, result, nil, err)
		}
	}
	if resumed && sess.Metadata.Status.IsTerminal() {
		return r.finish(ctx, result, nil, schema.NewErrorf(schema.ErrCodeConflict,
			"session %s is already %s", sess.Metadata.SessionID, sess.Metadata.Status))
	}

	variables := mergeVars(spec.Inputs.Values, nil, vars)
	if resumed {
		variables = mergeVars(spec.Inputs.Values, sess.Variables, vars)
	}

	ex, retryCfg, estimatorName, err := r.prepare(spec, variables)
	if err != nil {
		return r.finish(ctx, result, nil, err)
	}

	snapshot, err := json.Marshal(spec)
	if err != nil {
		return r.finish(ctx, result, nil, schema.NewErrorf(schema.ErrCodeConfiguration, "encode spec: %s", err.Error()).WithCause(err))
	}
	hash := store.HashSnapshot(snapshot)

	now := r.now().UTC()
	if resumed {
		if store.Drifted(sess, hash) {
			r.logger.Warn("spec changed since session was created",
				slog.String("session_id", sess.Metadata.SessionID),
				slog.String("stored_hash", sess.Metadata.SpecHash),
				slog.String("current_hash", hash))
			r.observer.SpecDrift(ctx, sess.Metadata.SessionID, sess.Metadata.SpecHash, hash)
		}
		if len(sess.PatternState) > 0 {
			if err := decodeState(sess.PatternState, spec.Pattern.Type, ex.state()); err != nil {
				return r.finish(ctx, result, nil, err)
			}
		}
		sess.Variables = variables
	} else {
		id := opts.SessionID
		if id == "" {
			id = uuid.NewString()
		}
		sess = &schema.SessionState{
			SchemaVersion: schema.StateSchemaVersion,
			Metadata: schema.SessionMetadata{
				SessionID:    id,
				WorkflowName: spec.Name,
				SpecHash:     hash,
				PatternType:  spec.Pattern.Type,
				Status:       schema.SessionRunning,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			Variables:     variables,
			RuntimeConfig: spec.Runtime,
		}
		if err := r.store.Save(ctx, sess, snapshot); err != nil {
			return r.finish(ctx, result, nil, err)
		}
	}
	result.SessionID = sess.Metadata.SessionID

	ctx = logging.WithSessionID(ctx, sess.Metadata.SessionID)
	ctx = logging.WithPattern(ctx, string(spec.Pattern.Type))
	r.observer.RunStarted(ctx, observe.RunInfo{
		SessionID:    sess.Metadata.SessionID,
		WorkflowName: spec.Name,
		PatternType:  spec.Pattern.Type,
		Resumed:      resumed,
	})

	rc := r.newRunContext(ctx, spec, sess, ex.state(), retryCfg, estimatorName, opts.HITLResponse)
	defer func() {
		if cerr := rc.cache.Close(); cerr != nil {
			logging.LogWith(ctx, r.logger).Warn("agent cache closed with errors", slog.String("error", cerr.Error()))
		}
	}()

	out, err := ex.execute(ctx, rc)
	return r.finish(ctx, result, rc, r.settle(ctx, rc, out, err, result))
}

// prepare validates the spec and resolves everything an invocation needs,
// so configuration errors surface before any agent runs.
func (r *Runner) prepare(spec *schema.Spec, variables map[string]any) (patternExecutor, RetryConfig, string, error) {
	if err := r.validator.ValidateSpec(spec, variables); err != nil {
		return nil, RetryConfig{}, "", err
	}
	retryCfg, err := ParseRetryPolicy(spec.Runtime.Retry)
	if err != nil {
		return nil, RetryConfig{}, "", err
	}
	ex, err := newExecutor(spec)
	if err != nil {
		return nil, RetryConfig{}, "", err
	}
	return ex, retryCfg, spec.Runtime.Budgets.Estimator, nil
}

// settle applies the executor outcome to the session and result, returning
// the error the run ends with.
func (r *Runner) settle(ctx context.Context, rc *runContext, out *outcome, err error, result *schema.RunResult) error {
	sess := rc.session
	now := r.now().UTC()
	log := logging.LogWith(ctx, r.logger)

	switch {
	case err != nil && schema.IsAwaitingInput(err):
		result.HITL = rc.activeHITL
		return err
	case err != nil:
		if terr := store.Transition(sess, schema.SessionFailed, now); terr != nil {
			log.Error("mark session failed", slog.String("error", terr.Error()))
		}
		sess.Metadata.Error = err.Error()
		sess.TokenUsage = rc.budget.Usage()
		rc.mu.Lock()
		raw, eerr := encodeState(rc.spec.Pattern.Type, rc.state)
		rc.mu.Unlock()
		if eerr != nil {
			log.Error("encode failed pattern state", slog.String("error", eerr.Error()))
		} else {
			sess.PatternState = raw
		}
		if serr := r.store.Save(ctx, sess, nil); serr != nil {
			log.Error("persist failed session", slog.String("error", serr.Error()))
		}
		return err
	case out.Paused != nil:
		result.HITL = out.Paused
		result.LastResponse = out.LastResponse
		result.ExecutionContext = out.Context
		return nil
	}

	if terr := store.Transition(sess, schema.SessionCompleted, now); terr != nil {
		return terr
	}
	sess.Metadata.Error = ""
	if cerr := rc.Checkpoint(ctx, "complete"); cerr != nil {
		return cerr
	}
	result.Success = true
	result.LastResponse = out.LastResponse
	result.AgentID = out.AgentID
	result.ExecutionContext = out.Context
	return nil
}

// finish stamps the result, picks the exit signal and notifies the observer.
func (r *Runner) finish(ctx context.Context, result *schema.RunResult, rc *runContext, err error) (*schema.RunResult, error) {
	if rc != nil {
		result.TokenUsage = rc.budget.Usage()
	}
	switch {
	case err != nil && schema.IsAwaitingInput(err):
		result.ExitSignal = schema.ExitAwaitingInput
		result.Error = err.Error()
	case err != nil:
		result.ExitSignal = schema.ExitFailure
		result.Error = err.Error()
	case result.HITL != nil:
		result.ExitSignal = schema.ExitAwaitingInput
	default:
		result.ExitSignal = schema.ExitSuccess
	}
	result.Finish(r.now().UTC())

	log := logging.LogWith(ctx, r.logger)
	switch result.ExitSignal {
	case schema.ExitSuccess:
		log.Info(schema.EventRunCompleted, slog.Float64("duration_seconds", result.DurationSeconds))
	case schema.ExitAwaitingInput:
		log.Info(schema.EventRunPaused, slog.String("locator", result.HITL.Locator()))
	default:
		log.Error(schema.EventRunFailed, slog.String("error", result.Error))
	}
	r.observer.RunFinished(ctx, result, err)

	if err != nil {
		return result, err
	}
	return result, nil
}

// mergeVars overlays layers left to right into a fresh map.
func mergeVars(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// patternStateVersion is bumped whenever a pattern state layout changes
// incompatibly.
const patternStateVersion = 1

// stateEnvelope wraps each pattern's typed state in the session record.
type stateEnvelope struct {
	Version     int                `json:"version"`
	PatternType schema.PatternType `json:"pattern_type"`
	State       json.RawMessage    `json:"state"`
}

func encodeState(pattern schema.PatternType, state any) (json.RawMessage, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stateEnvelope{Version: patternStateVersion, PatternType: pattern, State: raw})
}

func decodeState(data json.RawMessage, pattern schema.PatternType, into any) error {
	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "decode pattern state: %s", err.Error()).WithCause(err)
	}
	if env.Version != patternStateVersion {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"pattern state version %d is not supported (want %d)", env.Version, patternStateVersion)
	}
	if env.PatternType != pattern {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"session holds %s state but the spec is a %s pattern", env.PatternType, pattern)
	}
	if len(env.State) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.State, into); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "decode %s state: %s", pattern, err.Error()).WithCause(err)
	}
	return nil
}

// patternExecutor runs one pattern topology. state returns a pointer to the
// typed state persisted in every checkpoint; execute continues from it.
type patternExecutor interface {
	state() any
	execute(ctx context.Context, rc *runContext) (*outcome, error)
}

// outcome is what an executor hands back to the runner.
type outcome struct {
	LastResponse string
	AgentID      string
	Context      map[string]any
	Paused       *schema.HITLState
}

func paused(h *schema.HITLState) *outcome {
	return &outcome{Paused: h}
}

func newExecutor(spec *schema.Spec) (patternExecutor, error) {
	p := spec.Pattern
	switch p.Type {
	case schema.PatternChain:
		return &chainExecutor{cfg: p.Chain}, nil
	case schema.PatternWorkflow:
		dag, err := ParseDAG(p.Workflow)
		if err != nil {
			return nil, err
		}
		return &workflowExecutor{dag: dag}, nil
	case schema.PatternParallel:
		return &parallelExecutor{cfg: p.Parallel}, nil
	case schema.PatternRouting:
		return &routingExecutor{cfg: p.Routing}, nil
	case schema.PatternEvaluatorOptimizer:
		return &evaluatorExecutor{cfg: p.EvaluatorOptimizer}, nil
	case schema.PatternOrchestratorWorkers:
		return &orchestratorExecutor{cfg: p.OrchestratorWorkers}, nil
	case schema.PatternGraph:
		return newGraphExecutor(p.Graph)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "unknown pattern type: %q", p.Type)
	}
}
