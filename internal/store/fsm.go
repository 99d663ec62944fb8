package store

import (
	"time"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// validSessionTransitions lists the allowed status changes. Terminal states
// have no outgoing edges.
var validSessionTransitions = map[schema.SessionStatus][]schema.SessionStatus{
	schema.SessionRunning: {schema.SessionPaused, schema.SessionCompleted, schema.SessionFailed},
	schema.SessionPaused:  {schema.SessionRunning, schema.SessionFailed},
}

// Transition moves the session to status to, stamping updated_at. Setting
// the current status again is a no-op.
func Transition(state *schema.SessionState, to schema.SessionStatus, now time.Time) error {
	from := state.Metadata.Status
	if from == to {
		state.Metadata.UpdatedAt = now
		return nil
	}
	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", from, to).
			WithDetails(map[string]any{"session_id": state.Metadata.SessionID, "from": string(from), "to": string(to)})
	}
	state.Metadata.Status = to
	state.Metadata.UpdatedAt = now
	return nil
}

func isValidTransition(from, to schema.SessionStatus) bool {
	for _, allowed := range validSessionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
