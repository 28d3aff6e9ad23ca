package restbucket

import (
	"sync/atomic"
	"time"
)

// Bucket is a queue of requests sharing one quota, together with the quota
// state last reported by the server.
//
// The queue is guarded by the owning Limiter's mutex. remaining and resetAt
// are written only by the bucket's drain worker and may be read by anyone.
type Bucket struct {
	key   BucketKey
	queue []*Request

	remaining atomic.Int64
	resetAt   atomic.Int64 // unix milliseconds, server time
}

func newBucket(key BucketKey) *Bucket {
	b := &Bucket{key: key}
	// Optimistic until told otherwise: one call is assumed to be safe.
	b.remaining.Store(1)
	return b
}

// Key returns the bucket's identity.
func (b *Bucket) Key() BucketKey {
	return b.key
}

// Remaining returns the calls left in the current window.
func (b *Bucket) Remaining() int64 {
	return b.remaining.Load()
}

// ResetAt returns when the current window reopens, in server time.
func (b *Bucket) ResetAt() time.Time {
	return time.UnixMilli(b.resetAt.Load())
}

func (b *Bucket) setRemaining(n int64) {
	b.remaining.Store(n)
}

func (b *Bucket) setResetAt(t time.Time) {
	b.resetAt.Store(t.UnixMilli())
}

// delay returns how long to wait before the next call may run, given the
// current server time and the credential's global reset.
func (b *Bucket) delay(serverNow, globalReset time.Time) time.Duration {
	if b.Remaining() > 0 && !globalReset.After(serverNow) {
		return 0
	}
	reset := b.ResetAt()
	if globalReset.After(reset) {
		reset = globalReset
	}
	return reset.Sub(serverNow)
}

// BucketStatus is a point-in-time view of a bucket.
type BucketStatus struct {
	Key       BucketKey
	Queued    int
	Remaining int64
	ResetAt   time.Time
}
