package restbucket

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes as reported by restbucket_requests_total.
const (
	outcomeSuccess   = "success"
	outcomeAPIError  = "api_error"
	outcomeTransport = "transport_error"
	outcomeThrottled = "throttled"
	outcomeCanceled  = "canceled"
	outcomeClosed    = "closed"
)

type metrics struct {
	requests  *prometheus.CounterVec
	throttles *prometheus.CounterVec
	buckets   prometheus.Gauge
	wait      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restbucket",
			Name:      "requests_total",
			Help:      "Requests resolved by the limiter, by outcome.",
		}, []string{"outcome"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restbucket",
			Name:      "throttles_total",
			Help:      "429 responses received, by scope.",
		}, []string{"scope"}),
		buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "restbucket",
			Name:      "active_buckets",
			Help:      "Buckets with queued requests.",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "restbucket",
			Name:      "wait_seconds",
			Help:      "Time requests spent waiting for their rate limit to reopen.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	if reg == nil {
		return m
	}

	m.requests = register(reg, m.requests)
	m.throttles = register(reg, m.throttles)
	m.buckets = register(reg, m.buckets)
	m.wait = register(reg, m.wait)
	return m
}

// register registers c, or returns the identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
