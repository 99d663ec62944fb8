// Package store persists session checkpoints. Every backend honors the same
// contract: saves are atomic, the spec snapshot is written once at creation
// and never overwritten, and loads of unknown ids fail with NOT_FOUND.
package store

import (
	"context"
	"sort"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Store defines the session persistence contract. Implementations do no
// cross-process locking; callers must not resume one session concurrently.
type Store interface {
	// Load returns the latest checkpoint for id.
	Load(ctx context.Context, id string) (*schema.SessionState, error)
	// Save atomically replaces the checkpoint. A non-nil specSnapshot is
	// stored only if none exists yet for the session.
	Save(ctx context.Context, state *schema.SessionState, specSnapshot []byte) error
	// LoadSpecSnapshot returns the spec captured when the session was created.
	LoadSpecSnapshot(ctx context.Context, id string) ([]byte, error)
	// List returns session metadata, most recently updated first.
	List(ctx context.Context, filter Filter) ([]*schema.SessionMetadata, error)
	// Delete removes the session and its snapshot.
	Delete(ctx context.Context, id string) error
	// Close releases backend resources.
	Close() error
}

// Filter narrows List results.
type Filter struct {
	Status       schema.SessionStatus
	WorkflowName string
	Limit        int
}

func (f Filter) matches(m *schema.SessionMetadata) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.WorkflowName != "" && m.WorkflowName != f.WorkflowName {
		return false
	}
	return true
}

// apply filters, orders by updated_at desc (id breaks ties) and truncates.
func (f Filter) apply(all []*schema.SessionMetadata) []*schema.SessionMetadata {
	out := make([]*schema.SessionMetadata, 0, len(all))
	for _, m := range all {
		if f.matches(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeErr(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func validateState(state *schema.SessionState) error {
	if state == nil || state.Metadata.SessionID == "" {
		return schema.NewError(schema.ErrCodeStore, "session state has no session id")
	}
	return nil
}
