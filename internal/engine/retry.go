package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThomasRohde/strands-cli-sub000/internal/agent"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Retry defaults applied when the runtime leaves a field unset.
const (
	DefaultMaxAttempts = 3
	DefaultWaitMin     = time.Second
	DefaultWaitMax     = 60 * time.Second
)

// RetryConfig is a parsed retry policy.
type RetryConfig struct {
	MaxAttempts int // total attempts, including the first
	WaitMin     time.Duration
	WaitMax     time.Duration
}

// ParseRetryPolicy resolves defaults and parses durations. Bad durations are
// configuration errors so they surface before any invocation.
func ParseRetryPolicy(p schema.RetryPolicy) (RetryConfig, error) {
	cfg := RetryConfig{MaxAttempts: p.MaxAttempts, WaitMin: DefaultWaitMin, WaitMax: DefaultWaitMax}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if p.WaitMin != "" {
		d, err := time.ParseDuration(p.WaitMin)
		if err != nil || d < 0 {
			return cfg, schema.NewErrorf(schema.ErrCodeConfiguration, "invalid runtime.retry.wait_min %q", p.WaitMin)
		}
		cfg.WaitMin = d
	}
	if p.WaitMax != "" {
		d, err := time.ParseDuration(p.WaitMax)
		if err != nil || d < 0 {
			return cfg, schema.NewErrorf(schema.ErrCodeConfiguration, "invalid runtime.retry.wait_max %q", p.WaitMax)
		}
		cfg.WaitMax = d
	}
	if cfg.WaitMax < cfg.WaitMin {
		cfg.WaitMax = cfg.WaitMin
	}
	return cfg, nil
}

// ComputeBackoff returns the delay after the given zero-based failed attempt:
// WaitMin doubled per attempt, capped at WaitMax.
func ComputeBackoff(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.WaitMin
	for i := 0; i < attempt && delay < cfg.WaitMax; i++ {
		delay *= 2
	}
	if delay > cfg.WaitMax {
		delay = cfg.WaitMax
	}
	return delay
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if the context is cancelled.
// Returns an error if the context was cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryFunc observes a failed attempt that is about to be retried.
type RetryFunc func(attempt int, err error, delay time.Duration)

// Retry runs call until it succeeds, fails permanently or exhausts
// cfg.MaxAttempts. It returns the reply and the number of attempts made.
// Structured engine errors pass through untouched; raw invoker errors are
// wrapped as TRANSIENT_EXECUTION_ERROR or PERMANENT_EXECUTION_ERROR.
func Retry(ctx context.Context, cfg RetryConfig, onRetry RetryFunc, call func(context.Context) (string, error)) (string, int, error) {
	attempts := 0
	for {
		attempts++
		out, err := call(ctx)
		if err == nil {
			return out, attempts, nil
		}

		var structured *schema.Error
		if errors.As(err, &structured) && !errors.As(err, new(*agent.TransientError)) {
			return "", attempts, err
		}
		if ctx.Err() != nil {
			return "", attempts, cancelled(ctx, err)
		}
		if !agent.IsTransient(err) {
			return "", attempts, schema.NewError(schema.ErrCodePermanent, err.Error()).WithCause(err)
		}
		if attempts >= cfg.MaxAttempts {
			return "", attempts, schema.NewErrorf(schema.ErrCodeTransient,
				"giving up after %d attempts: %s", attempts, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"attempts": attempts})
		}

		delay := ComputeBackoff(cfg, attempts-1)
		if onRetry != nil {
			onRetry(attempts, err, delay)
		}
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return "", attempts, cancelled(ctx, err)
		}
	}
}

func cancelled(ctx context.Context, last error) error {
	return schema.NewError(schema.ErrCodeCancelled, fmt.Sprintf("run cancelled: %v", context.Cause(ctx))).
		WithCause(errors.Join(ctx.Err(), last))
}
