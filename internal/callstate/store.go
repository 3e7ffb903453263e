// Package callstate holds the per-call conversation state, its stage
// transition table, and the versioned stores that persist it between webhook
// invocations.
package callstate

import (
	"context"
	"errors"
	"sync"
	"time"
)

const DefaultRetention = 7 * 24 * time.Hour

var (
	// ErrNotFound means no state has been persisted for the call yet.
	ErrNotFound = errors.New("callstate: state not found")
	// ErrVersionConflict means another writer persisted a newer version first.
	ErrVersionConflict = errors.New("callstate: version conflict")
)

// Store persists conversation state keyed by call id.
//
// Save is an optimistic write: it succeeds only when the stored version still
// equals state.Version (zero meaning "not yet stored"), and bumps
// state.Version on success. Put writes unconditionally.
type Store interface {
	Load(ctx context.Context, callID string) (*State, error)
	Save(ctx context.Context, state *State) error
	Put(ctx context.Context, state *State) error
}

func validate(state *State) error {
	if state == nil || state.CallID == "" {
		return errors.New("callstate: call id required")
	}
	return nil
}

// MemoryStore keeps state in process. Used in development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (m *MemoryStore) Load(_ context.Context, callID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if existing, ok := m.states[state.CallID]; ok {
		current = existing.Version
	}
	if current != state.Version {
		return ErrVersionConflict
	}
	m.store(state, current+1)
	return nil
}

func (m *MemoryStore) Put(_ context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if existing, ok := m.states[state.CallID]; ok {
		current = existing.Version
	}
	m.store(state, current+1)
	return nil
}

func (m *MemoryStore) store(state *State, version int64) {
	state.Version = version
	state.UpdatedAt = time.Now().UTC()
	m.states[state.CallID] = state.Clone()
}
