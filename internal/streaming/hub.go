// Package streaming fans run events out to live subscribers, such as the
// CLI's --events writer.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted during a run. Type is one of the
// schema.Event* names.
type StreamEvent struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Unit      string    `json:"unit,omitempty"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	SessionID string   `json:"session_id,omitempty"`
	Types     []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
