package store

import (
	"context"
	"time"
)

// Store holds, per key, the moment an account-wide rate limit window
// reopens. Keys are opaque to the store; callers pass a credential
// fingerprint, never the credential itself.
//
// Stored timestamps only move forward: Extend never replaces a later reset
// with an earlier one.
type Store interface {
	// Extend records resetAt for key unless a later reset is already stored
	// and returns the reset that is in effect afterwards.
	Extend(ctx context.Context, key string, resetAt time.Time) (time.Time, error)

	// Get returns the stored reset for key, or the zero time if none exists.
	Get(ctx context.Context, key string) (time.Time, error)

	// List returns every stored key with its reset.
	List(ctx context.Context) (map[string]time.Time, error)

	// Reset removes the entry for the given key.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// ClockedGetter is implemented by stores whose Get consults the current
// time. Resets are in server time, so callers that know the server's clock
// pass their estimate of it as now instead of letting the store use the
// local clock.
type ClockedGetter interface {
	GetAt(ctx context.Context, key string, now time.Time) (time.Time, error)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
