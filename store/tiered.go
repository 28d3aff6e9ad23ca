package store

import (
	"context"
	"time"
)

// Compile-time interface checks.
var (
	_ Store         = (*TieredStore)(nil)
	_ ClockedGetter = (*TieredStore)(nil)
)

// TieredStore wraps an in-memory store (fast path) with a shared backend.
// Writes go to both stores (write-through). Reads are answered from memory
// while the remembered reset is still in the future; otherwise the shared
// backend is consulted so that resets written by other processes are seen.
type TieredStore struct {
	memory *MemoryStore
	shared Store
	now    func() time.Time
}

// NewTieredStore creates a TieredStore backed by the given shared store.
// An internal MemoryStore is created automatically.
func NewTieredStore(shared Store) *TieredStore {
	return &TieredStore{
		memory: NewMemoryStore(),
		shared: shared,
		now:    time.Now,
	}
}

// Extend writes through to the shared backend, which is authoritative for the
// returned reset, and mirrors the result into memory.
func (t *TieredStore) Extend(ctx context.Context, key string, resetAt time.Time) (time.Time, error) {
	cur, err := t.shared.Extend(ctx, key, resetAt)
	if err != nil {
		return time.Time{}, err
	}

	t.memory.Extend(ctx, key, cur)
	return cur, nil
}

// Get is GetAt with the local clock as the current time.
func (t *TieredStore) Get(ctx context.Context, key string) (time.Time, error) {
	return t.GetAt(ctx, key, t.now())
}

// GetAt reads from memory first. When memory holds no reset later than now
// it falls back to the shared store and backfills memory.
func (t *TieredStore) GetAt(ctx context.Context, key string, now time.Time) (time.Time, error) {
	cur, err := t.memory.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if cur.After(now) {
		return cur, nil
	}

	// Memory miss, ask the shared backend.
	remote, err := t.shared.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if remote.After(cur) {
		t.memory.Extend(ctx, key, remote)
		cur = remote
	}

	return cur, nil
}

// List delegates to the shared backend.
func (t *TieredStore) List(ctx context.Context) (map[string]time.Time, error) {
	return t.shared.List(ctx)
}

// Reset removes the entry from both stores.
func (t *TieredStore) Reset(ctx context.Context, key string) error {
	t.memory.Reset(ctx, key)
	return t.shared.Reset(ctx, key)
}

// Close closes the shared backend. The in-memory store needs no cleanup.
func (t *TieredStore) Close() error {
	return t.shared.Close()
}
