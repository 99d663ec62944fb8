package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ThomasRohde/strands-cli-sub000/internal/agent"
	"github.com/ThomasRohde/strands-cli-sub000/internal/budget"
	"github.com/ThomasRohde/strands-cli-sub000/internal/hitl"
	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// runContext is the per-run state shared by an executor and its units.
// Fan-out units only call invoke and render; everything that touches the
// session runs on the driving goroutine.
type runContext struct {
	*Runner

	spec    *schema.Spec
	session *schema.SessionState
	state   any
	vars    map[string]any

	cache          *agent.Cache
	budget         *budget.Tracker
	retry          RetryConfig
	limiter        *Limiter
	hitl           *hitl.Controller
	sessionManager string

	pending    string // hitl response supplied by the caller, consumed once
	activeHITL *schema.HITLState

	mu sync.Mutex // serializes checkpoints
}

// newRunContext builds the per-run state. ctx carries the session and pattern
// attributes that budget warnings are reported with.
func (r *Runner) newRunContext(ctx context.Context, spec *schema.Spec, sess *schema.SessionState, state any, retry RetryConfig, estimator, response string) *runContext {
	log := r.logger.With(slog.String("session_id", sess.Metadata.SessionID))
	tracker := budget.NewTracker(spec.Runtime.Budgets.MaxTokens, budget.EstimatorFor(estimator), sess.TokenUsage, log)

	limit := spec.Runtime.MaxParallel
	if limit == 0 {
		limit = r.maxParallel
	}

	rc := &runContext{
		Runner:         r,
		spec:           spec,
		session:        sess,
		state:          state,
		vars:           sess.Variables,
		cache:          agent.NewCache(r.factory, agent.WithRateLimit(spec.Runtime.RateLimitRPS), agent.WithCacheLogger(log)),
		budget:         tracker,
		retry:          retry,
		limiter:        NewLimiter(limit),
		hitl:           hitl.NewController(r.observer, hitl.WithClock(r.now)),
		sessionManager: "session:" + sess.Metadata.SessionID,
		pending:        response,
	}
	tracker.OnWarn(func(used, max int) {
		r.observer.BudgetWarning(ctx, used, max)
	})
	return rc
}

// Checkpoint persists the session with the executor's current state. It
// implements hitl.Checkpointer.
func (rc *runContext) Checkpoint(ctx context.Context, unit string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	raw, err := encodeState(rc.spec.Pattern.Type, rc.state)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode %s state: %s", rc.spec.Pattern.Type, err.Error()).WithCause(err)
	}
	rc.session.PatternState = raw
	rc.session.TokenUsage = rc.budget.Usage()
	rc.session.Metadata.UpdatedAt = rc.now().UTC()
	if err := rc.store.Save(ctx, rc.session, nil); err != nil {
		var se *schema.Error
		if !errors.As(err, &se) {
			err = schema.NewErrorf(schema.ErrCodeStore, "save checkpoint: %s", err.Error()).WithCause(err)
		}
		return unitErr(unit, err)
	}

	logging.LogWith(ctx, rc.logger).Debug(schema.EventCheckpoint, slog.String("unit", unit))
	rc.observer.Checkpointed(ctx, rc.session.Metadata.SessionID, unit)
	return nil
}

// call describes one agent invocation.
type call struct {
	Agent       string
	Input       string
	Tools       []string // overrides the agent's tools when non-nil
	WorkerIndex int
	Unit        string
}

// invoke runs one agent call through the budget, the agent cache, the
// circuit breaker and the retry loop.
func (rc *runContext) invoke(ctx context.Context, c call) (string, error) {
	ctx = logging.WithUnit(logging.WithAgentID(ctx, c.Agent), c.Unit)
	log := logging.LogWith(ctx, rc.logger)

	if err := rc.budget.Check(); err != nil {
		return "", unitErr(c.Unit, err)
	}
	cfg, ok := rc.spec.Agents[c.Agent]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeConfiguration, "unknown agent %q", c.Agent).WithUnit(c.Unit)
	}
	tools := cfg.Tools
	if c.Tools != nil {
		tools = c.Tools
	}
	inv, err := rc.cache.Get(ctx, agent.Request{
		AgentID:        c.Agent,
		Agent:          cfg,
		Runtime:        rc.spec.Runtime,
		Tools:          tools,
		WorkerIndex:    c.WorkerIndex,
		SessionManager: rc.sessionManager,
	})
	if err != nil {
		return "", unitErr(c.Unit, err)
	}
	if err := rc.breakers.Allow(c.Agent); err != nil {
		log.Warn(schema.EventCircuitBreakerOpen)
		return "", unitErr(c.Unit, err)
	}

	start := rc.now()
	log.Debug("invoking agent", slog.Int("input_chars", len(c.Input)))
	out, attempts, err := Retry(ctx, rc.retry, func(attempt int, err error, delay time.Duration) {
		log.Warn(schema.EventInvocationRetry,
			slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.String("error", err.Error()))
	}, func(ctx context.Context) (string, error) {
		return inv.Invoke(ctx, c.Input)
	})

	switch {
	case err == nil:
		rc.breakers.Success(c.Agent)
	case !schema.IsCode(err, schema.ErrCodeCancelled):
		if rc.breakers.Failure(c.Agent) == CircuitOpen {
			log.Warn(schema.EventCircuitBreakerOpen)
		}
	}

	var tokens int
	if err == nil {
		tokens, err = rc.budget.Add(c.Input, out)
	}
	rc.observer.InvocationCompleted(ctx, observe.Invocation{
		SessionID: rc.session.Metadata.SessionID,
		AgentID:   c.Agent,
		Unit:      c.Unit,
		Attempts:  attempts,
		Duration:  rc.now().Sub(start),
		Tokens:    tokens,
		Err:       err,
	})
	if err != nil {
		return "", unitErr(c.Unit, err)
	}
	log.Debug(schema.EventInvocation, slog.Int("attempts", attempts), slog.Int("tokens", tokens))
	return out, nil
}

// render expands a template against data.
func (rc *runContext) render(ctx context.Context, tmpl string, data map[string]any) (string, error) {
	return rc.renderer.Render(ctx, tmpl, data)
}

// input renders tmpl, falling back to the previous response and then to the
// run variables when the template is empty.
func (rc *runContext) input(ctx context.Context, tmpl string, data map[string]any, unit string) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		if last, _ := data[schema.CtxLastResponse].(string); last != "" {
			return last, nil
		}
		raw, err := json.Marshal(rc.vars)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeTemplate, "variables are not JSON-serializable: %s", err.Error()).WithUnit(unit)
		}
		return string(raw), nil
	}
	out, err := rc.render(ctx, tmpl, data)
	if err != nil {
		return "", unitErr(unit, err)
	}
	return out, nil
}

// baseContext returns a fresh template context holding the run variables,
// both at the top level and under "vars", overlaid with extra.
func (rc *runContext) baseContext(extra map[string]any) map[string]any {
	data := make(map[string]any, len(rc.vars)+len(extra)+1)
	for k, v := range rc.vars {
		data[k] = v
	}
	vars := make(map[string]any, len(rc.vars)+len(extra))
	for k, v := range rc.vars {
		vars[k] = v
	}
	for k, v := range extra {
		data[k] = v
		vars[k] = v
	}
	data[schema.CtxVars] = vars
	return data
}

// takeResponse returns the caller's pending hitl response once.
func (rc *runContext) takeResponse() string {
	r := rc.pending
	rc.pending = ""
	return r
}

// hitlUnit resolves the human pause point described by at. slot is the
// pattern state's pause record.
//
// A matching active pause is resumed with the caller's response. A matching
// pause that was already resolved yields its stored response, so a crash
// right after resume never re-prompts. Otherwise a new pause is persisted
// and returned.
func (rc *runContext) hitlUnit(ctx context.Context, slot **schema.HITLState, at schema.HITLState, cfg schema.HITLConfig, data map[string]any) (string, *schema.HITLState, error) {
	if h := *slot; h != nil && h.Locator() == at.Locator() {
		if h.UserResponse != nil && !h.Active {
			return *h.UserResponse, nil, nil
		}
		if h.Active {
			rc.activeHITL = h
			resp, err := rc.hitl.Resume(ctx, rc.session, rc, h, rc.takeResponse())
			if err != nil {
				return "", nil, err
			}
			rc.activeHITL = nil
			if h.TimedOut {
				logging.LogWith(ctx, rc.logger).Warn(schema.EventHITLTimedOut,
					slog.String("locator", h.Locator()), slog.String("default_response", resp))
			} else {
				logging.LogWith(ctx, rc.logger).Info(schema.EventRunResumed, slog.String("locator", h.Locator()))
			}
			return resp, nil, nil
		}
	}

	var display string
	if cfg.ContextDisplay != "" {
		var err error
		if display, err = rc.render(ctx, cfg.ContextDisplay, data); err != nil {
			return "", nil, unitErr(at.Locator(), err)
		}
	}
	prompt := cfg
	if rendered, err := rc.render(ctx, cfg.Prompt, data); err == nil {
		prompt.Prompt = rendered
	} else {
		return "", nil, unitErr(at.Locator(), err)
	}

	h := at
	*slot = &h
	if err := rc.hitl.Pause(ctx, rc.session, rc, &h, prompt, display); err != nil {
		return "", nil, err
	}
	return "", &h, nil
}
