// Package agent defines the boundary between the engine and the language
// models it drives: the Invoker contract, error classification, provider
// adapters and the per-run agent cache.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Invoker sends rendered text to an agent and returns its reply.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// TransientError marks a failure worth retrying (network, timeout, throttling).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that fails the unit of work immediately.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error { return &TransientError{Err: err} }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error { return &PermanentError{Err: err} }

// IsTransient reports whether err should be retried. Explicitly classified
// errors win; otherwise deadlines and network errors are transient and
// everything else, including cancellation, is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyStatus maps an HTTP status from a provider SDK to an error class.
func classifyStatus(status int, err error) error {
	switch {
	case status == 408, status == 409, status == 429, status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}

// Request carries everything a Factory needs to build an invoker.
type Request struct {
	AgentID        string
	Agent          schema.AgentConfig
	Runtime        schema.Runtime
	Tools          []string // effective tool set (step overrides applied)
	WorkerIndex    int      // -1 when the invoker is not bound to a worker
	SessionManager string   // distinguishes fresh and resumed conversations
}

// Key identifies one cached invoker.
type Key struct {
	AgentID             string
	Tools               string
	ConversationManager string
	WorkerIndex         int
	SessionManager      string
}

func (k Key) String() string {
	return fmt.Sprintf("%s[tools=%s cm=%s worker=%d sm=%s]",
		k.AgentID, k.Tools, k.ConversationManager, k.WorkerIndex, k.SessionManager)
}

// Key derives the cache key; the tool set is order-insensitive.
func (r Request) Key() Key {
	tools := append([]string(nil), r.Tools...)
	sort.Strings(tools)
	return Key{
		AgentID:             r.AgentID,
		Tools:               strings.Join(tools, ","),
		ConversationManager: r.Agent.ConversationManager,
		WorkerIndex:         r.WorkerIndex,
		SessionManager:      r.SessionManager,
	}
}

// Provider returns the agent's provider, falling back to the runtime default.
func (r Request) Provider() string {
	if r.Agent.Provider != "" {
		return r.Agent.Provider
	}
	return r.Runtime.Provider
}

// Model returns the agent's model, falling back to the runtime default.
func (r Request) Model() string {
	if r.Agent.ModelID != "" {
		return r.Agent.ModelID
	}
	return r.Runtime.ModelID
}

// Factory builds invokers for cache misses.
type Factory interface {
	Build(ctx context.Context, req Request) (Invoker, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, req Request) (Invoker, error)

func (f FactoryFunc) Build(ctx context.Context, req Request) (Invoker, error) { return f(ctx, req) }
