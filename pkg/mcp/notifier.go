package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// ClientNotifier pushes a notification to one MCP client session.
type ClientNotifier interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// HITLNotifier is an observer that tells the MCP client which started a run
// that the run is waiting for a human response.
type HITLNotifier struct {
	observe.Nop

	client   atomic.Pointer[clientRef]
	sessions *SessionRegistry
	logger   *slog.Logger
}

type clientRef struct{ ClientNotifier }

var _ observe.Observer = (*HITLNotifier)(nil)

// NewHITLNotifier creates a notifier. Bind must be called before
// notifications are delivered; until then prompts are dropped.
func NewHITLNotifier(sessions *SessionRegistry, logger *slog.Logger) *HITLNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &HITLNotifier{sessions: sessions, logger: logger}
}

// Bind attaches the MCP server. The runner is built before the server, so
// the notifier is bound late.
func (n *HITLNotifier) Bind(c ClientNotifier) {
	n.client.Store(&clientRef{c})
}

// HITLPrompted sends a notifications/message with the pause details.
// Best-effort: a run without a connected client is not an error.
func (n *HITLNotifier) HITLPrompted(_ context.Context, sessionID string, state *schema.HITLState) {
	ref := n.client.Load()
	if ref == nil || state == nil {
		return
	}
	clientID, ok := n.sessions.SessionFor(sessionID)
	if !ok {
		return
	}

	data := map[string]any{
		"session_id": sessionID,
		"locator":    state.Locator(),
		"prompt":     state.Prompt,
	}
	if state.ContextDisplay != "" {
		data["context"] = state.ContextDisplay
	}
	if state.TimeoutAt != nil {
		data["timeout_at"] = state.TimeoutAt
	}
	payload := map[string]any{"level": "notice", "logger": "strands.hitl", "data": data}

	err := ref.SendNotificationToSpecificClient(clientID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Client went away between lookup and send.
		n.sessions.Remove(clientID)
		return
	}
	if err != nil {
		n.logger.Warn("hitl notification failed", "session_id", sessionID, "error", err)
	}
}

// RunFinished drops the mapping once the run can no longer pause.
func (n *HITLNotifier) RunFinished(_ context.Context, result *schema.RunResult, _ error) {
	if result == nil || result.ExitSignal == schema.ExitAwaitingInput {
		return
	}
	n.sessions.Forget(result.SessionID)
}
