package state

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewMemoryStore constructs an in-memory Store for tests and single-process deployments.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[string][]byte),
	}
}

// Load returns a copy of the stored session bytes.
func (m *memoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.sessions[key]
	if !ok {
		return nil, ErrNoSession
	}
	return append([]byte(nil), data...), nil
}

// Save replaces the session stored under key.
func (m *memoryStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[key] = append([]byte(nil), data...)
	return nil
}

// Delete removes the entire session for a key.
func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, key)
	return nil
}
