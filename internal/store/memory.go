package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// MemoryStore keeps checkpoints in process memory. States are stored as
// JSON so callers never share mutable structures with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[string][]byte
	snapshots map[string][]byte
	saves     int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string][]byte),
		snapshots: make(map[string][]byte),
	}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*schema.SessionState, error) {
	s.mu.RLock()
	data, ok := s.states[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("session", id)
	}
	var st schema.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, storeErr("decode session", err)
	}
	return &st, nil
}

func (s *MemoryStore) Save(_ context.Context, state *schema.SessionState, specSnapshot []byte) error {
	if err := validateState(state); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return storeErr("encode session", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := state.Metadata.SessionID
	s.states[id] = data
	if specSnapshot != nil {
		if _, exists := s.snapshots[id]; !exists {
			s.snapshots[id] = append([]byte(nil), specSnapshot...)
		}
	}
	s.saves++
	return nil
}

func (s *MemoryStore) LoadSpecSnapshot(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, storeNotFound("spec snapshot", id)
	}
	return append([]byte(nil), snap...), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*schema.SessionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*schema.SessionMetadata, 0, len(s.states))
	for _, data := range s.states {
		var st schema.SessionState
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, storeErr("decode session", err)
		}
		m := st.Metadata
		all = append(all, &m)
	}
	return filter.apply(all), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[id]; !ok {
		return storeNotFound("session", id)
	}
	delete(s.states, id)
	delete(s.snapshots, id)
	return nil
}

// Saves returns how many checkpoints have been written.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }
