package restbucket

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Limiter.
type Option func(*Limiter)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		l.log = log
	}
}

// WithClock replaces time.Now as the source of local wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithWorkers bounds how many requests run at the same time across all
// buckets. Waiting buckets do not occupy a worker. The default is 16.
func WithWorkers(n int) Option {
	return func(l *Limiter) {
		l.workers = n
	}
}

// WithRetryPolicy bounds retries of rate limited requests. The default
// retries forever.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(l *Limiter) {
		l.policy = p
	}
}

// WithGlobalState shares credential-scoped state with other limiters.
// The limiter does not close a GlobalState it did not create.
func WithGlobalState(g *GlobalState) Option {
	return func(l *Limiter) {
		l.global = g
	}
}

// WithMetrics registers the limiter's collectors with reg. Limiters sharing
// a registerer share the collectors.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(l *Limiter) {
		l.registerer = reg
	}
}

// WithOnThrottle sets a callback that fires for every 429 response. It runs
// on the drain worker and must not block.
func WithOnThrottle(fn func(Throttle)) Option {
	return func(l *Limiter) {
		l.onThrottle = fn
	}
}

// WithGlobalPromotion moves an endpoint onto the global bucket once a
// non-429 response to it carries X-RateLimit-Global: true. Requests
// already queued stay where they are.
func WithGlobalPromotion() Option {
	return func(l *Limiter) {
		l.promote = true
	}
}
