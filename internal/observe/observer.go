// Package observe carries run telemetry out of the engine through an
// explicit Observer argument instead of process-wide globals.
package observe

import (
	"context"
	"time"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// RunInfo describes a run as it starts or resumes.
type RunInfo struct {
	SessionID    string
	WorkflowName string
	PatternType  schema.PatternType
	Resumed      bool
}

// Invocation describes one completed agent call, retries included.
type Invocation struct {
	SessionID string
	AgentID   string
	Unit      string
	Attempts  int
	Duration  time.Duration
	Tokens    int
	Err       error
}

// Observer receives engine lifecycle notifications. Implementations must be
// safe for concurrent use: fan-out units report from their own goroutines.
type Observer interface {
	RunStarted(ctx context.Context, info RunInfo)
	RunFinished(ctx context.Context, result *schema.RunResult, err error)
	InvocationCompleted(ctx context.Context, inv Invocation)
	Checkpointed(ctx context.Context, sessionID, unit string)
	// HITLPrompted is the display hook. It runs only after the paused
	// state has been persisted.
	HITLPrompted(ctx context.Context, sessionID string, state *schema.HITLState)
	BudgetWarning(ctx context.Context, used, max int)
	SpecDrift(ctx context.Context, sessionID, storedHash, currentHash string)
}

// Nop ignores every notification.
type Nop struct{}

var _ Observer = Nop{}

func (Nop) RunStarted(context.Context, RunInfo)                     {}
func (Nop) RunFinished(context.Context, *schema.RunResult, error)   {}
func (Nop) InvocationCompleted(context.Context, Invocation)         {}
func (Nop) Checkpointed(context.Context, string, string)            {}
func (Nop) HITLPrompted(context.Context, string, *schema.HITLState) {}
func (Nop) BudgetWarning(context.Context, int, int)                 {}
func (Nop) SpecDrift(context.Context, string, string, string)       {}

// Multi fans every notification out to several observers in order.
type Multi []Observer

var _ Observer = Multi(nil)

func (m Multi) RunStarted(ctx context.Context, info RunInfo) {
	for _, o := range m {
		o.RunStarted(ctx, info)
	}
}

func (m Multi) RunFinished(ctx context.Context, result *schema.RunResult, err error) {
	for _, o := range m {
		o.RunFinished(ctx, result, err)
	}
}

func (m Multi) InvocationCompleted(ctx context.Context, inv Invocation) {
	for _, o := range m {
		o.InvocationCompleted(ctx, inv)
	}
}

func (m Multi) Checkpointed(ctx context.Context, sessionID, unit string) {
	for _, o := range m {
		o.Checkpointed(ctx, sessionID, unit)
	}
}

func (m Multi) HITLPrompted(ctx context.Context, sessionID string, state *schema.HITLState) {
	for _, o := range m {
		o.HITLPrompted(ctx, sessionID, state)
	}
}

func (m Multi) BudgetWarning(ctx context.Context, used, max int) {
	for _, o := range m {
		o.BudgetWarning(ctx, used, max)
	}
}

func (m Multi) SpecDrift(ctx context.Context, sessionID, storedHash, currentHash string) {
	for _, o := range m {
		o.SpecDrift(ctx, sessionID, storedHash, currentHash)
	}
}
