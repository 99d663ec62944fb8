package mcp

import "sync"

// SessionRegistry maps run session IDs to MCP client session IDs.
// Populated when a client calls strands.run or strands.resume.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // run session ID → client session ID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a run with a client session. A resume from another
// client overwrites the previous owner.
func (r *SessionRegistry) Register(runID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[runID] = clientID
}

// SessionFor returns the client session that owns the run, if any.
func (r *SessionRegistry) SessionFor(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[runID]
	return sid, ok
}

// Forget removes one run's mapping.
func (r *SessionRegistry) Forget(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, runID)
}

// Remove deletes all run mappings for the given client session.
// Called when a client disconnects.
func (r *SessionRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rid, sid := range r.sessions {
		if sid == clientID {
			delete(r.sessions, rid)
		}
	}
}
