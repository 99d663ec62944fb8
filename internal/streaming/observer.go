package streaming

import (
	"context"
	"time"

	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Observer publishes engine notifications to a hub.
type Observer struct {
	hub EventHub
	now func() time.Time
}

var _ observe.Observer = (*Observer)(nil)

func NewObserver(hub EventHub) *Observer {
	return &Observer{hub: hub, now: time.Now}
}

func (o *Observer) publish(ctx context.Context, sessionID, eventType, unit string, payload any) {
	// Publishing must not fail a run; a cancelled context only drops the event.
	_ = o.hub.Publish(context.WithoutCancel(ctx), StreamEvent{
		SessionID: sessionID,
		Type:      eventType,
		Unit:      unit,
		Time:      o.now().UTC(),
		Payload:   payload,
	})
}

func (o *Observer) RunStarted(ctx context.Context, info observe.RunInfo) {
	event := schema.EventRunStarted
	if info.Resumed {
		event = schema.EventRunResumed
	}
	o.publish(ctx, info.SessionID, event, "", map[string]any{
		"workflow": info.WorkflowName,
		"pattern":  info.PatternType,
	})
}

func (o *Observer) RunFinished(ctx context.Context, result *schema.RunResult, err error) {
	sessionID := logging.SessionID(ctx)
	if result != nil && result.SessionID != "" {
		sessionID = result.SessionID
	}
	switch {
	case result != nil && result.ExitSignal == schema.ExitAwaitingInput:
		o.publish(ctx, sessionID, schema.EventRunPaused, result.HITL.Locator(), nil)
	case err != nil:
		o.publish(ctx, sessionID, schema.EventRunFailed, "", map[string]any{
			"code":  schema.CodeOf(err),
			"error": err.Error(),
		})
	default:
		payload := map[string]any{}
		if result != nil {
			payload["duration_seconds"] = result.DurationSeconds
			payload["tokens"] = result.TokenUsage.Total()
		}
		o.publish(ctx, sessionID, schema.EventRunCompleted, "", payload)
	}
}

func (o *Observer) InvocationCompleted(ctx context.Context, inv observe.Invocation) {
	payload := map[string]any{
		"agent_id":    inv.AgentID,
		"attempts":    inv.Attempts,
		"duration_ms": inv.Duration.Milliseconds(),
		"tokens":      inv.Tokens,
	}
	if inv.Err != nil {
		payload["error"] = inv.Err.Error()
	}
	o.publish(ctx, inv.SessionID, schema.EventInvocation, inv.Unit, payload)
}

func (o *Observer) Checkpointed(ctx context.Context, sessionID, unit string) {
	o.publish(ctx, sessionID, schema.EventCheckpoint, unit, nil)
}

func (o *Observer) HITLPrompted(ctx context.Context, sessionID string, state *schema.HITLState) {
	payload := map[string]any{"prompt": state.Prompt}
	if state.TimeoutAt != nil {
		payload["timeout_at"] = state.TimeoutAt.UTC()
	}
	o.publish(ctx, sessionID, schema.EventHITLPrompted, state.Locator(), payload)
}

func (o *Observer) BudgetWarning(ctx context.Context, used, max int) {
	o.publish(ctx, logging.SessionID(ctx), schema.EventBudgetWarning, "", map[string]any{"used": used, "max": max})
}

func (o *Observer) SpecDrift(ctx context.Context, sessionID, storedHash, currentHash string) {
	o.publish(ctx, sessionID, schema.EventSpecDrift, "", map[string]any{
		"stored_hash":  storedHash,
		"current_hash": currentHash,
	})
}
