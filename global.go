package restbucket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ryhazerus/restbucket/store"
)

// GlobalState holds everything that is shared by all buckets using the same
// credential: the account-wide reset, the clock offset and an optional pacer.
//
// A Limiter creates a private GlobalState unless one is supplied with
// WithGlobalState. Share one GlobalState between limiters (e.g. shards) that
// use the same credential, and back it with a shared store.Store to extend
// that sharing across processes.
type GlobalState struct {
	store store.Store

	paceLimit rate.Limit
	paceBurst int

	mu    sync.Mutex
	creds map[string]*credentialState
}

type credentialState struct {
	offset ClockOffset
	pacer  *rate.Limiter
}

// GlobalOption configures a GlobalState.
type GlobalOption func(*GlobalState)

// WithStore sets the backing store for global resets.
// If not provided, an in-memory store is used.
func WithStore(s store.Store) GlobalOption {
	return func(g *GlobalState) {
		g.store = s
	}
}

// WithPace spaces out requests of each credential to at most limit per
// second with the given burst, before the server has to say so.
func WithPace(limit rate.Limit, burst int) GlobalOption {
	return func(g *GlobalState) {
		g.paceLimit = limit
		g.paceBurst = burst
	}
}

// NewGlobalState creates a GlobalState with the given options.
func NewGlobalState(opts ...GlobalOption) *GlobalState {
	g := &GlobalState{creds: make(map[string]*credentialState)}
	for _, o := range opts {
		o(g)
	}
	if g.store == nil {
		g.store = store.NewMemoryStore()
	}
	return g
}

// Fingerprint derives the store key for a credential. Credentials never
// leave the process; only their fingerprint is stored or logged.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:12])
}

// ResetAt returns when the account-wide quota of credential reopens, in
// server time. The zero time means no global limit is known.
func (g *GlobalState) ResetAt(ctx context.Context, credential string) (time.Time, error) {
	return g.store.Get(ctx, Fingerprint(credential))
}

// resetAtFrom is ResetAt for a caller whose estimate of the server's current
// time is now.
func (g *GlobalState) resetAtFrom(ctx context.Context, credential string, now time.Time) (time.Time, error) {
	if cg, ok := g.store.(store.ClockedGetter); ok {
		return cg.GetAt(ctx, Fingerprint(credential), now)
	}
	return g.store.Get(ctx, Fingerprint(credential))
}

// Extend records that the account-wide quota of credential is exhausted
// until resetAt. Earlier resets never overwrite later ones.
func (g *GlobalState) Extend(ctx context.Context, credential string, resetAt time.Time) (time.Time, error) {
	return g.store.Extend(ctx, Fingerprint(credential), resetAt)
}

// Offset returns the clock offset estimator of credential.
func (g *GlobalState) Offset(credential string) *ClockOffset {
	return &g.credential(credential).offset
}

// pacer returns the credential's pacer, or nil when pacing is disabled.
func (g *GlobalState) pacer(credential string) *rate.Limiter {
	return g.credential(credential).pacer
}

func (g *GlobalState) credential(credential string) *credentialState {
	key := Fingerprint(credential)

	g.mu.Lock()
	defer g.mu.Unlock()

	cs, ok := g.creds[key]
	if !ok {
		cs = &credentialState{}
		if g.paceLimit > 0 {
			cs.pacer = rate.NewLimiter(g.paceLimit, max(g.paceBurst, 1))
		}
		g.creds[key] = cs
	}
	return cs
}

// Close releases the backing store.
func (g *GlobalState) Close() error {
	return g.store.Close()
}
