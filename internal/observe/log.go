package observe

import (
	"context"
	"log/slog"

	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// LogObserver writes each notification as a structured log record.
type LogObserver struct {
	logger *slog.Logger
}

var _ Observer = (*LogObserver)(nil)

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) RunStarted(ctx context.Context, info RunInfo) {
	event := schema.EventRunStarted
	if info.Resumed {
		event = schema.EventRunResumed
	}
	logging.LogWith(ctx, o.logger).Info(event,
		slog.String("workflow", info.WorkflowName),
		slog.String("pattern", string(info.PatternType)),
	)
}

func (o *LogObserver) RunFinished(ctx context.Context, result *schema.RunResult, err error) {
	log := logging.LogWith(ctx, o.logger)
	switch {
	case result != nil && result.ExitSignal == schema.ExitAwaitingInput:
		log.Info(schema.EventRunPaused, slog.String("unit", result.HITL.Locator()))
	case err != nil:
		log.Error(schema.EventRunFailed, slog.String("code", schema.CodeOf(err)), slog.String("error", err.Error()))
	default:
		attrs := []any{}
		if result != nil {
			attrs = append(attrs,
				slog.Float64("duration_seconds", result.DurationSeconds),
				slog.Int("tokens", result.TokenUsage.Total()),
			)
		}
		log.Info(schema.EventRunCompleted, attrs...)
	}
}

func (o *LogObserver) InvocationCompleted(ctx context.Context, inv Invocation) {
	log := logging.LogWith(ctx, o.logger)
	attrs := []any{
		slog.String("agent_id", inv.AgentID),
		slog.String("unit", inv.Unit),
		slog.Int("attempts", inv.Attempts),
		slog.Duration("duration", inv.Duration),
		slog.Int("tokens", inv.Tokens),
	}
	if inv.Err != nil {
		log.Warn(schema.EventInvocation, append(attrs, slog.String("error", inv.Err.Error()))...)
		return
	}
	log.Debug(schema.EventInvocation, attrs...)
}

func (o *LogObserver) Checkpointed(ctx context.Context, _ string, unit string) {
	logging.LogWith(ctx, o.logger).Debug(schema.EventCheckpoint, slog.String("unit", unit))
}

func (o *LogObserver) HITLPrompted(ctx context.Context, _ string, state *schema.HITLState) {
	attrs := []any{
		slog.String("unit", state.Locator()),
		slog.String("prompt", state.Prompt),
	}
	if state.TimeoutAt != nil {
		attrs = append(attrs, slog.Time("timeout_at", *state.TimeoutAt))
	}
	logging.LogWith(ctx, o.logger).Info(schema.EventHITLPrompted, attrs...)
}

func (o *LogObserver) BudgetWarning(ctx context.Context, used, max int) {
	logging.LogWith(ctx, o.logger).Warn(schema.EventBudgetWarning,
		slog.Int("used", used),
		slog.Int("max", max),
	)
}

func (o *LogObserver) SpecDrift(ctx context.Context, _ string, storedHash, currentHash string) {
	logging.LogWith(ctx, o.logger).Warn(schema.EventSpecDrift,
		slog.String("stored_hash", storedHash),
		slog.String("current_hash", currentHash),
	)
}
