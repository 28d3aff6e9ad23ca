package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
// It is safe for concurrent use. State is lost on process restart.
type MemoryStore struct {
	mu     sync.Mutex
	resets map[string]time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resets: make(map[string]time.Time),
	}
}

// Extend stores resetAt for key unless a later reset is already present.
func (m *MemoryStore) Extend(_ context.Context, key string, resetAt time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := later(m.resets[key], resetAt)
	m.resets[key] = cur
	return cur, nil
}

// Get returns the stored reset for key.
func (m *MemoryStore) Get(_ context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.resets[key], nil
}

// List returns a copy of all stored resets.
func (m *MemoryStore) List(_ context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]time.Time, len(m.resets))
	for k, v := range m.resets {
		out[k] = v
	}
	return out, nil
}

// Reset removes the entry for the given key.
func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.resets, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
