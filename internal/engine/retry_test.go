package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/internal/agent"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, WaitMin: time.Millisecond, WaitMax: 4 * time.Millisecond}
}

func TestParseRetryPolicy(t *testing.T) {
	cfg, err := ParseRetryPolicy(schema.RetryPolicy{})
	require.NoError(t, err)
	assert.Equal(t, RetryConfig{MaxAttempts: 3, WaitMin: time.Second, WaitMax: time.Minute}, cfg)

	cfg, err = ParseRetryPolicy(schema.RetryPolicy{MaxAttempts: 5, WaitMin: "200ms", WaitMax: "2s"})
	require.NoError(t, err)
	assert.Equal(t, RetryConfig{MaxAttempts: 5, WaitMin: 200 * time.Millisecond, WaitMax: 2 * time.Second}, cfg)

	_, err = ParseRetryPolicy(schema.RetryPolicy{WaitMin: "soon"})
	assert.True(t, schema.IsConfiguration(err))
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{WaitMin: time.Second, WaitMax: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{30, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComputeBackoff(cfg, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestWaitForBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, time.Hour), context.Canceled)
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	var retried []int
	out, attempts, err := Retry(context.Background(), fastRetry(3),
		func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", agent.Transient(errors.New("503"))
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_ExhaustedIsTransientError(t *testing.T) {
	_, attempts, err := Retry(context.Background(), fastRetry(2), nil, func(context.Context) (string, error) {
		return "", context.DeadlineExceeded
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransient))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	calls := 0
	_, attempts, err := Retry(context.Background(), fastRetry(5), nil, func(context.Context) (string, error) {
		calls++
		return "", agent.Permanent(errors.New("400 bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.True(t, schema.IsCode(err, schema.ErrCodePermanent))
}

func TestRetry_StructuredErrorsPassThrough(t *testing.T) {
	budget := schema.NewError(schema.ErrCodeBudgetExceeded, "over")
	_, attempts, err := Retry(context.Background(), fastRetry(5), nil, func(context.Context) (string, error) {
		return "", budget
	})
	assert.Same(t, budget, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 3, WaitMin: time.Hour, WaitMax: time.Hour}
	_, _, err := Retry(ctx, cfg, func(int, error, time.Duration) { cancel() }, func(context.Context) (string, error) {
		return "", agent.Transient(errors.New("reset"))
	})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
}
