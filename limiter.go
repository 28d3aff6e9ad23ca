package restbucket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultWorkers = 16

// Limiter is the main entry point for the restbucket library. It resolves
// every submitted request to a bucket, runs each bucket's requests one at a
// time in submission order, and holds them back until the quotas reported by
// the server allow them to run.
type Limiter struct {
	credential string
	global     *GlobalState
	ownsGlobal bool
	offset     *ClockOffset
	pacer      *rate.Limiter

	log        *zap.Logger
	now        func() time.Time
	policy     RetryPolicy
	onThrottle func(Throttle)
	promote    bool
	registerer prometheus.Registerer
	metrics    *metrics
	workers    int
	slots      chan struct{}

	mu       sync.Mutex
	buckets  map[BucketKey]*Bucket
	promoted map[*Endpoint]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Limiter for the given credential with the given options.
// If no GlobalState is provided, a private in-memory one is used.
func New(credential string, opts ...Option) *Limiter {
	l := &Limiter{
		credential: credential,
		buckets:    make(map[BucketKey]*Bucket),
		promoted:   make(map[*Endpoint]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.global == nil {
		l.global = NewGlobalState()
		l.ownsGlobal = true
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.workers <= 0 {
		l.workers = defaultWorkers
	}

	fp := Fingerprint(credential)
	l.log = l.log.With(zap.String("credential", fp[:8]))
	l.offset = l.global.Offset(credential)
	l.pacer = l.global.pacer(credential)
	l.metrics = newMetrics(l.registerer)
	l.slots = make(chan struct{}, l.workers)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// Submit enqueues r on its bucket and returns immediately. The outcome is
// delivered through r. Requests to the same bucket complete in submission
// order.
func (l *Limiter) Submit(r *Request) {
	l.mu.Lock()
	key := l.keyFor(r)
	if l.closed {
		l.mu.Unlock()
		l.complete(r, nil, ErrClosed, outcomeClosed)
		return
	}

	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(key)
		l.buckets[key] = b
		l.metrics.buckets.Inc()
	}
	idle := len(b.queue) == 0
	b.queue = append(b.queue, r)
	if idle {
		l.wg.Add(1)
	}
	l.mu.Unlock()

	// An idle bucket has no drain worker; a busy one will reach r on its own.
	if idle {
		go l.drain(b)
	}
}

// keyFor returns the bucket key of r, moving requests to promoted endpoints
// onto the global key. Callers hold l.mu.
func (l *Limiter) keyFor(r *Request) BucketKey {
	key := r.Key()
	if _, ok := l.promoted[r.Endpoint]; ok && !key.Global() {
		return GlobalKey(key.Major())
	}
	return key
}

// promoteGlobal moves later requests to e onto the global key.
func (l *Limiter) promoteGlobal(e *Endpoint) {
	l.mu.Lock()
	_, seen := l.promoted[e]
	l.promoted[e] = struct{}{}
	l.mu.Unlock()

	if !seen {
		l.log.Info("endpoint reported as global, sharing the global bucket from now on",
			zap.String("endpoint", e.String()))
	}
}

// Do submits r and waits for its outcome or for ctx to be done.
func (l *Limiter) Do(ctx context.Context, r *Request) (*Result, error) {
	l.Submit(r)
	return r.Wait(ctx)
}

// Snapshot returns the state of every active bucket, ordered by key.
func (l *Limiter) Snapshot() []BucketStatus {
	l.mu.Lock()
	out := make([]BucketStatus, 0, len(l.buckets))
	for _, b := range l.buckets {
		out = append(out, BucketStatus{
			Key:       b.key,
			Queued:    len(b.queue),
			Remaining: b.Remaining(),
			ResetAt:   b.ResetAt(),
		})
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// GlobalResetAt returns when the credential's account-wide quota reopens,
// in server time.
func (l *Limiter) GlobalResetAt(ctx context.Context) (time.Time, error) {
	return l.global.ResetAt(ctx, l.credential)
}

// Close stops accepting requests, resolves every pending request with
// ErrClosed and waits for all drain workers to exit. Requests already
// executing see their context cancelled.
func (l *Limiter) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()

	if l.ownsGlobal {
		return l.global.Close()
	}
	return nil
}

// head returns the request at the front of b's queue.
func (l *Limiter) head(b *Bucket) *Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return b.queue[0]
}

// advance dequeues the head of b. It removes b from the registry and reports
// false once the queue is empty.
func (l *Limiter) advance(b *Bucket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b.queue[0] = nil
	b.queue = b.queue[1:]
	if len(b.queue) > 0 {
		return true
	}

	delete(l.buckets, b.key)
	l.metrics.buckets.Dec()
	return false
}

func (l *Limiter) complete(r *Request, res *Result, err error, outcome string) {
	if r.resolve(res, err) {
		l.metrics.requests.WithLabelValues(outcome).Inc()
	}
}
