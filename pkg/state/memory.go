package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps states in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*SyncState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*SyncState)}
}

func memoryKey(connector, stream string) string {
	return connector + "\x00" + stream
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, connector, stream string) (*SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[memoryKey(connector, stream)]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Cursor = s.Cursor.Clone()
	return &cp, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s *SyncState) error {
	cp := *s
	cp.Cursor = s.Cursor.Clone()
	if cp.Version == 0 {
		cp.Version = SchemaVersion
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[memoryKey(s.Connector, s.Stream)] = &cp
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, connector, stream string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, memoryKey(connector, stream))
	return nil
}

// Len returns the number of saved states.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
