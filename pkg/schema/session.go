package schema

import (
	"encoding/json"
	"strconv"
	"time"
)

// StateSchemaVersion is the persisted session format version.
const StateSchemaVersion = "1.0.0"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// HITLTimeoutRecord is appended to the metadata each time a pause expires.
type HITLTimeoutRecord struct {
	Locator         string    `json:"locator"`
	TimedOutAt      time.Time `json:"timed_out_at"`
	DefaultResponse string    `json:"default_response"`
}

// SessionMetadata identifies a session and tracks its lifecycle.
type SessionMetadata struct {
	SessionID     string              `json:"session_id"`
	WorkflowName  string              `json:"workflow_name"`
	SpecHash      string              `json:"spec_hash"`
	PatternType   PatternType         `json:"pattern_type"`
	Status        SessionStatus       `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Error         string              `json:"error,omitempty"`
	HITLTimeoutAt *time.Time          `json:"hitl_timeout_at,omitempty"`
	HITLTimeouts  []HITLTimeoutRecord `json:"hitl_timeouts,omitempty"`
}

// TokenUsage is the cumulative usage, restored on resume.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// SessionState is the durable snapshot of an in-progress run. PatternState
// is an opaque, pattern-specific envelope owned by the executor.
type SessionState struct {
	SchemaVersion string          `json:"schema_version"`
	Metadata      SessionMetadata `json:"metadata"`
	Variables     map[string]any  `json:"variables"`
	RuntimeConfig Runtime         `json:"runtime_config"`
	PatternState  json.RawMessage `json:"pattern_state,omitempty"`
	TokenUsage    TokenUsage      `json:"token_usage"`
}

// HITLState records a human pause point inside a pattern state. Exactly one
// of the locator fields is meaningful for a given pattern.
type HITLState struct {
	Active          bool       `json:"active"`
	Prompt          string     `json:"prompt"`
	ContextDisplay  string     `json:"context_display,omitempty"`
	DefaultResponse string     `json:"default_response,omitempty"`
	TimeoutAt       *time.Time `json:"timeout_at,omitempty"`
	UserResponse    *string    `json:"user_response,omitempty"`
	TimedOut        bool       `json:"timed_out,omitempty"`

	StepIndex      *int   `json:"step_index,omitempty"`
	TaskID         string `json:"task_id,omitempty"`
	LayerIndex     *int   `json:"layer_index,omitempty"`
	BranchID       string `json:"branch_id,omitempty"`
	NodeID         string `json:"node_id,omitempty"`
	IterationIndex *int   `json:"iteration_index,omitempty"`
	Phase          string `json:"phase,omitempty"` // reduce or writeup
}

// Locator renders the pause point in a human-readable form.
func (h *HITLState) Locator() string {
	switch {
	case h == nil:
		return ""
	case h.TaskID != "":
		return "task:" + h.TaskID
	case h.BranchID != "" && h.StepIndex != nil:
		return "branch:" + h.BranchID + "/step:" + strconv.Itoa(*h.StepIndex)
	case h.NodeID != "":
		return "node:" + h.NodeID
	case h.Phase != "":
		return "phase:" + h.Phase
	case h.IterationIndex != nil:
		return "iteration:" + strconv.Itoa(*h.IterationIndex)
	case h.StepIndex != nil:
		return "step:" + strconv.Itoa(*h.StepIndex)
	default:
		return "hitl"
	}
}

// Expired reports whether the pause has a deadline that is not after now.
func (h *HITLState) Expired(now time.Time) bool {
	return h.TimeoutAt != nil && !now.Before(*h.TimeoutAt)
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }
