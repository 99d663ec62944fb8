// Package hitl implements the human-in-the-loop pause/resume protocol on
// top of session checkpoints.
//
// A pause point moves INACTIVE -> ACTIVE when the engine reaches it, and
// ACTIVE -> RESOLVED -> INACTIVE when a later run supplies a response or the
// pause times out. The ACTIVE state is always durable before anyone is
// asked for input.
package hitl

import (
	"context"
	"strings"
	"time"

	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Checkpointer persists the session together with the executor's current
// pattern state.
type Checkpointer interface {
	Checkpoint(ctx context.Context, unit string) error
}

// Controller drives pause and resume for one run.
type Controller struct {
	observer observe.Observer
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller notifying observer once a pause is durable.
func NewController(observer observe.Observer, opts ...Option) *Controller {
	if observer == nil {
		observer = observe.Nop{}
	}
	c := &Controller{observer: observer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pause activates h from cfg, marks the session PAUSED, persists it and only
// then notifies the observer. h must already carry the executor's locator
// fields and be reachable from the pattern state the Checkpointer saves.
func (c *Controller) Pause(ctx context.Context, sess *schema.SessionState, cp Checkpointer, h *schema.HITLState, cfg schema.HITLConfig, contextDisplay string) error {
	now := c.now().UTC()

	h.Active = true
	h.Prompt = cfg.Prompt
	h.ContextDisplay = contextDisplay
	h.DefaultResponse = cfg.Default
	h.UserResponse = nil
	h.TimedOut = false
	h.TimeoutAt = nil
	if cfg.TimeoutSeconds > 0 {
		at := now.Add(time.Duration(cfg.TimeoutSeconds) * time.Second)
		h.TimeoutAt = &at
	}

	if err := store.Transition(sess, schema.SessionPaused, now); err != nil {
		return err
	}
	sess.Metadata.HITLTimeoutAt = h.TimeoutAt

	if err := cp.Checkpoint(ctx, h.Locator()); err != nil {
		return err
	}
	c.observer.HITLPrompted(ctx, sess.Metadata.SessionID, h)
	return nil
}

// Resume resolves the active pause h with response. An empty response on an
// expired pause falls back to the default response and records the timeout;
// on a live pause it yields HITL_AWAITING_INPUT and leaves the session
// PAUSED. A resolved pause is checkpointed before Resume returns, so the
// caller may continue with downstream work.
func (c *Controller) Resume(ctx context.Context, sess *schema.SessionState, cp Checkpointer, h *schema.HITLState, response string) (string, error) {
	if h == nil || !h.Active {
		return "", schema.NewError(schema.ErrCodeConfiguration, "no active hitl pause to resume")
	}
	now := c.now().UTC()

	if response == "" {
		if !h.Expired(now) {
			return "", AwaitingInput(h)
		}
		response = h.DefaultResponse
		h.TimedOut = true
		sess.Metadata.HITLTimeouts = append(sess.Metadata.HITLTimeouts, schema.HITLTimeoutRecord{
			Locator:         h.Locator(),
			TimedOutAt:      now,
			DefaultResponse: h.DefaultResponse,
		})
	}

	h.Active = false
	h.UserResponse = &response
	sess.Metadata.HITLTimeoutAt = nil
	if err := store.Transition(sess, schema.SessionRunning, now); err != nil {
		return "", err
	}
	if err := cp.Checkpoint(ctx, h.Locator()); err != nil {
		return "", err
	}
	return response, nil
}

// AwaitingInput is the guidance error for a pause that still needs a response.
func AwaitingInput(h *schema.HITLState) *schema.Error {
	details := map[string]any{"locator": h.Locator(), "prompt": h.Prompt}
	if h.TimeoutAt != nil {
		details["timeout_at"] = h.TimeoutAt.Format(time.RFC3339)
	}
	return schema.NewErrorf(schema.ErrCodeHITLAwaitingInput,
		"session is waiting for input at %s; resume with a response", h.Locator()).
		WithUnit(h.Locator()).
		WithDetails(details)
}

// earlyTerminationWords end an evaluator-optimizer loop from its review gate.
var earlyTerminationWords = map[string]bool{"stop": true, "abort": true, "end": true}

// IsEarlyTermination reports whether a review response asks to stop refining.
func IsEarlyTermination(response string) bool {
	return earlyTerminationWords[strings.ToLower(strings.TrimSpace(response))]
}
