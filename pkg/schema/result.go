package schema

import "time"

// ExitSignal tells the caller how to treat a finished run.
type ExitSignal string

const (
	ExitSuccess       ExitSignal = "success"
	ExitFailure       ExitSignal = "failure"
	ExitAwaitingInput ExitSignal = "awaiting_input"
)

// RunResult is the outcome of one execution or resumption.
type RunResult struct {
	Success          bool           `json:"success"`
	LastResponse     string         `json:"last_response"`
	Error            string         `json:"error,omitempty"`
	AgentID          string         `json:"agent_id,omitempty"`
	PatternType      PatternType    `json:"pattern_type"`
	SessionID        string         `json:"session_id,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      time.Time      `json:"completed_at"`
	DurationSeconds  float64        `json:"duration_seconds"`
	ArtifactsWritten []string       `json:"artifacts_written,omitempty"`
	ExecutionContext map[string]any `json:"execution_context,omitempty"`
	ExitSignal       ExitSignal     `json:"exit_signal"`
	TokenUsage       TokenUsage     `json:"token_usage"`
	HITL             *HITLState     `json:"hitl,omitempty"`
}

// Finish stamps the completion time and duration.
func (r *RunResult) Finish(now time.Time) {
	r.CompletedAt = now
	r.DurationSeconds = now.Sub(r.StartedAt).Seconds()
}
