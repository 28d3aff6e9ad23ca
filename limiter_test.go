package restbucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func okResult(remaining int64, reset time.Time) *Result {
	h := http.Header{}
	h.Set(headerRemaining, strconv.FormatInt(remaining, 10))
	if !reset.IsZero() {
		h.Set(headerReset, strconv.FormatFloat(float64(reset.UnixMilli())/1000, 'f', 3, 64))
	}
	return &Result{StatusCode: http.StatusOK, Status: "200 OK", Header: h}
}

func tooMany(wait time.Duration, global bool) *Result {
	body := fmt.Sprintf(`{"message":"You are being rate limited.","retry_after":%d,"global":%t}`,
		wait.Milliseconds(), global)
	return &Result{
		StatusCode: http.StatusTooManyRequests,
		Status:     "429 Too Many Requests",
		Header:     http.Header{},
		Body:       []byte(body),
	}
}

func succeed(context.Context) (*Result, error) {
	return okResult(1, time.Time{}), nil
}

func newTestLimiter(t *testing.T, opts ...Option) *Limiter {
	t.Helper()
	l := New("test-token", opts...)
	t.Cleanup(func() { l.Close() })
	return l
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func messages(channel string, exec Executor) *Request {
	return NewRequest(context.Background(), ChannelMessages, http.MethodPost, []string{channel}, exec)
}

func TestLimiterPreservesOrderWithinBucket(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	var mu sync.Mutex
	var order []int

	reqs := make([]*Request, 50)
	for i := range reqs {
		reqs[i] = messages("1", func(context.Context) (*Result, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return okResult(1, time.Time{}), nil
		})
		l.Submit(reqs[i])
	}

	for _, r := range reqs {
		_, err := r.Wait(ctx)
		require.NoError(t, err)
	}

	require.Len(t, order, 50)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestLimiterBucketsAreIsolated(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	release := make(chan struct{})
	started := make(chan struct{})
	blocked := messages("1", func(context.Context) (*Result, error) {
		close(started)
		<-release
		return okResult(1, time.Time{}), nil
	})
	l.Submit(blocked)
	<-started

	// A different major parameter is a different bucket.
	_, err := l.Do(ctx, messages("2", succeed))
	require.NoError(t, err)

	select {
	case <-blocked.Done():
		t.Fatal("blocked request resolved early")
	default:
	}

	close(release)
	_, err = blocked.Wait(ctx)
	require.NoError(t, err)
}

func TestLimiterRespectsExhaustedQuota(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	var firstDone time.Time
	first := messages("1", func(context.Context) (*Result, error) {
		firstDone = time.Now()
		return okResult(0, firstDone.Add(100*time.Millisecond)), nil
	})

	var secondRan time.Time
	second := messages("1", func(context.Context) (*Result, error) {
		secondRan = time.Now()
		return okResult(1, time.Time{}), nil
	})

	l.Submit(first)
	l.Submit(second)

	_, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, secondRan.Sub(firstDone), 90*time.Millisecond)
	assert.Less(t, secondRan.Sub(firstDone), 500*time.Millisecond)
}

func TestLimiterRetriesBucketThrottleInPlace(t *testing.T) {
	var throttles []Throttle
	l := newTestLimiter(t, WithOnThrottle(func(th Throttle) { throttles = append(throttles, th) }))
	ctx := testContext(t)

	var mu sync.Mutex
	var order []string
	var calls atomic.Int32

	first := messages("1", func(context.Context) (*Result, error) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		if calls.Add(1) == 1 {
			return tooMany(50*time.Millisecond, false), nil
		}
		return okResult(1, time.Time{}), nil
	})
	second := messages("1", func(context.Context) (*Result, error) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return okResult(1, time.Time{}), nil
	})

	start := time.Now()
	l.Submit(first)
	l.Submit(second)

	res, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	_, err = second.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "first", "second"}, order)
	require.Len(t, throttles, 1)
	assert.Equal(t, ScopeBucket, throttles[0].Scope)
	assert.Equal(t, 1, throttles[0].Attempt)
	assert.Equal(t, first.ID, throttles[0].RequestID)
	assert.Equal(t, 50*time.Millisecond, throttles[0].RetryAfter)
}

func TestLimiterBucketThrottleDoesNotPauseOthers(t *testing.T) {
	throttled := make(chan struct{}, 1)
	l := newTestLimiter(t, WithOnThrottle(func(Throttle) {
		select {
		case throttled <- struct{}{}:
		default:
		}
	}))
	ctx := testContext(t)

	var calls atomic.Int32
	slow := messages("1", func(context.Context) (*Result, error) {
		if calls.Add(1) == 1 {
			return tooMany(500*time.Millisecond, false), nil
		}
		return okResult(1, time.Time{}), nil
	})
	l.Submit(slow)
	<-throttled

	start := time.Now()
	_, err := l.Do(ctx, messages("2", succeed))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	_, err = slow.Wait(ctx)
	require.NoError(t, err)
}

func TestLimiterGlobalThrottlePausesAllBuckets(t *testing.T) {
	throttled := make(chan Throttle, 1)
	l := newTestLimiter(t, WithOnThrottle(func(th Throttle) { throttled <- th }))
	ctx := testContext(t)

	var calls atomic.Int32
	l.Submit(messages("1", func(context.Context) (*Result, error) {
		if calls.Add(1) == 1 {
			return tooMany(200*time.Millisecond, true), nil
		}
		return okResult(1, time.Time{}), nil
	}))

	th := <-throttled
	assert.Equal(t, ScopeGlobal, th.Scope)

	reset, err := l.GlobalResetAt(ctx)
	require.NoError(t, err)
	assert.True(t, reset.After(time.Now()))

	start := time.Now()
	var ranAt time.Time
	_, err = l.Do(ctx, NewRequest(ctx, Guild, http.MethodGet, nil, func(context.Context) (*Result, error) {
		ranAt = time.Now()
		return okResult(1, time.Time{}), nil
	}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ranAt.Sub(start), 150*time.Millisecond)
}

func TestLimiterGlobalHeaderMarksGlobalThrottle(t *testing.T) {
	throttled := make(chan Throttle, 1)
	l := newTestLimiter(t, WithOnThrottle(func(th Throttle) { throttled <- th }))
	ctx := testContext(t)

	var calls atomic.Int32
	_, err := l.Do(ctx, messages("1", func(context.Context) (*Result, error) {
		if calls.Add(1) == 1 {
			res := tooMany(10*time.Millisecond, false)
			res.Header.Set(headerGlobal, "true")
			return res, nil
		}
		return okResult(1, time.Time{}), nil
	}))
	require.NoError(t, err)
	assert.Equal(t, ScopeGlobal, (<-throttled).Scope)
}

func TestLimiterSharedGlobalState(t *testing.T) {
	g := NewGlobalState()
	defer g.Close()
	ctx := testContext(t)

	throttled := make(chan struct{}, 1)
	shard1 := newTestLimiter(t, WithGlobalState(g), WithOnThrottle(func(Throttle) {
		select {
		case throttled <- struct{}{}:
		default:
		}
	}))
	shard2 := newTestLimiter(t, WithGlobalState(g))
	other := New("other-token", WithGlobalState(g))
	defer other.Close()

	var calls atomic.Int32
	shard1.Submit(messages("1", func(context.Context) (*Result, error) {
		if calls.Add(1) == 1 {
			return tooMany(200*time.Millisecond, true), nil
		}
		return okResult(1, time.Time{}), nil
	}))
	<-throttled

	// Another credential is not affected.
	start := time.Now()
	_, err := other.Do(ctx, messages("2", succeed))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// The same credential on another limiter is.
	start = time.Now()
	_, err = shard2.Do(ctx, messages("2", succeed))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	assert.Same(t, shard1.offset, shard2.offset)
}

func TestLimiterRecreatesBucketAfterDrain(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	release := make(chan struct{})
	started := make(chan struct{})
	first := messages("1", func(context.Context) (*Result, error) {
		close(started)
		<-release
		// Exhausted for an hour.
		return okResult(0, time.Now().Add(time.Hour)), nil
	})
	l.Submit(first)
	l.Submit(messages("1", succeed))
	<-started

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, KeyFor(ChannelMessages, []string{"1"}), snap[0].Key)
	assert.Equal(t, 2, snap[0].Queued)
	assert.EqualValues(t, 1, snap[0].Remaining)

	close(release)
	_, err := first.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := l.Snapshot()
		return len(snap) == 1 && snap[0].Remaining == 0
	}, time.Second, 5*time.Millisecond)

	// Drop the queued request so the bucket drains and is discarded.
	l.Close()
	assert.Empty(t, l.Snapshot())
}

func TestLimiterFreshBucketIsOptimistic(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	_, err := l.Do(ctx, messages("1", func(context.Context) (*Result, error) {
		return okResult(0, time.Now().Add(time.Hour)), nil
	}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(l.Snapshot()) == 0 }, time.Second, 5*time.Millisecond)

	// The exhausted state went away with the bucket.
	start := time.Now()
	_, err = l.Do(ctx, messages("1", succeed))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiterGlobalEndpointsShareBucket(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	a := &Endpoint{Name: "a", Route: "/a", Global: true, MajorParam: NoMajorParam}
	b := &Endpoint{Name: "b", Route: "/b", Global: true, MajorParam: NoMajorParam}

	release := make(chan struct{})
	started := make(chan struct{})
	l.Submit(NewRequest(ctx, a, http.MethodGet, nil, func(context.Context) (*Result, error) {
		close(started)
		<-release
		return okResult(1, time.Time{}), nil
	}))
	<-started

	var ran atomic.Bool
	second := NewRequest(ctx, b, http.MethodGet, nil, func(context.Context) (*Result, error) {
		ran.Store(true)
		return okResult(1, time.Time{}), nil
	})
	l.Submit(second)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
	require.Len(t, l.Snapshot(), 1)
	assert.True(t, l.Snapshot()[0].Key.Global())

	close(release)
	_, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestLimiterAPIErrorAdvancesQueue(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	var failedAt time.Time
	failed := messages("1", func(context.Context) (*Result, error) {
		failedAt = time.Now()
		res := okResult(0, failedAt.Add(100*time.Millisecond))
		res.StatusCode, res.Status = http.StatusNotFound, "404 Not Found"
		return res, nil
	})
	var nextAt time.Time
	next := messages("1", func(context.Context) (*Result, error) {
		nextAt = time.Now()
		return okResult(1, time.Time{}), nil
	})
	l.Submit(failed)
	l.Submit(next)

	_, err := failed.Wait(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Result.StatusCode)

	_, err = next.Wait(ctx)
	require.NoError(t, err)
	// The quota reported with the error was honoured.
	assert.GreaterOrEqual(t, nextAt.Sub(failedAt), 90*time.Millisecond)
}

func TestLimiterTransportErrorAdvancesQueue(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	boom := errors.New("connection reset")
	failed := messages("1", func(context.Context) (*Result, error) { return nil, boom })
	next := messages("1", succeed)
	l.Submit(failed)
	l.Submit(next)

	_, err := failed.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = next.Wait(ctx)
	assert.NoError(t, err)
}

func TestLimiterExecutorPanic(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	_, err := l.Do(ctx, messages("1", func(context.Context) (*Result, error) { panic("kaboom") }))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	_, err = l.Do(ctx, messages("1", succeed))
	assert.NoError(t, err)
}

func TestLimiterRetryPolicy(t *testing.T) {
	t.Run("MaxAttempts", func(t *testing.T) {
		l := newTestLimiter(t, WithRetryPolicy(RetryPolicy{MaxAttempts: 2}))
		ctx := testContext(t)

		var calls atomic.Int32
		_, err := l.Do(ctx, messages("1", func(context.Context) (*Result, error) {
			calls.Add(1)
			return tooMany(10*time.Millisecond, false), nil
		}))

		require.ErrorIs(t, err, ErrThrottled)
		var te *ThrottledError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 2, te.Attempts)
		assert.Equal(t, ScopeBucket, te.Scope)
		assert.Equal(t, KeyFor(ChannelMessages, []string{"1"}), te.Key)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("MaxWait", func(t *testing.T) {
		l := newTestLimiter(t, WithRetryPolicy(RetryPolicy{MaxWait: time.Second}))
		ctx := testContext(t)

		start := time.Now()
		_, err := l.Do(ctx, messages("1", func(context.Context) (*Result, error) {
			return tooMany(time.Minute, false), nil
		}))
		require.ErrorIs(t, err, ErrThrottled)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestLimiterCloseResolvesPending(t *testing.T) {
	l := New("test-token")
	ctx := testContext(t)

	started := make(chan struct{})
	running := messages("1", func(ctx context.Context) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	queued := messages("1", succeed)
	l.Submit(running)
	l.Submit(queued)
	<-started

	require.NoError(t, l.Close())

	_, err := running.Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = queued.Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = l.Do(ctx, messages("1", succeed))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, l.Close())
}

func TestLimiterCancelledRequestIsSkipped(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	release := make(chan struct{})
	started := make(chan struct{})
	l.Submit(messages("1", func(context.Context) (*Result, error) {
		close(started)
		<-release
		return okResult(1, time.Time{}), nil
	}))
	<-started

	reqCtx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	cancelled := NewRequest(reqCtx, ChannelMessages, http.MethodPost, []string{"1"}, func(context.Context) (*Result, error) {
		ran.Store(true)
		return okResult(1, time.Time{}), nil
	})
	l.Submit(cancelled)
	after := messages("1", succeed)
	l.Submit(after)

	cancel()
	close(release)

	_, err := cancelled.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = after.Wait(ctx)
	assert.NoError(t, err)
	assert.False(t, ran.Load())
}

func TestLimiterCalibratesClockOffset(t *testing.T) {
	// The local clock runs an hour behind the server.
	l := newTestLimiter(t, WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := messages("1", func(context.Context) (*Result, error) {
		now := time.Now()
		res := okResult(0, now.Add(100*time.Millisecond))
		res.Header.Set(headerDate, now.UTC().Format(http.TimeFormat))
		return res, nil
	})
	second := messages("1", succeed)
	l.Submit(first)
	l.Submit(second)

	// Without the offset the second request would wait an hour.
	_, err := second.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, Calibrated, l.offset.State())
	assert.InDelta(t, time.Hour.Seconds(), l.offset.Offset().Seconds(), 1.5)
}

func TestLimiterBucketThrottleInvalidatesOffset(t *testing.T) {
	l := newTestLimiter(t)
	ctx := testContext(t)

	withDate := func(context.Context) (*Result, error) {
		res := okResult(1, time.Time{})
		res.Header.Set(headerDate, time.Now().UTC().Format(http.TimeFormat))
		return res, nil
	}

	_, err := l.Do(ctx, messages("1", withDate))
	require.NoError(t, err)
	require.Equal(t, Calibrated, l.offset.State())

	var calls atomic.Int32
	_, err = l.Do(ctx, messages("1", func(context.Context) (*Result, error) {
		if calls.Add(1) == 1 {
			return tooMany(10*time.Millisecond, false), nil
		}
		return okResult(1, time.Time{}), nil
	}))
	require.NoError(t, err)
	assert.Equal(t, Uncalibrated, l.offset.State())
	assert.Zero(t, l.offset.Offset())

	_, err = l.Do(ctx, messages("1", withDate))
	require.NoError(t, err)
	assert.Equal(t, Calibrated, l.offset.State())
}

// throttledAttempts runs one request whose first two attempts are answered
// with 429s dated skew away from the local clock. It returns the gaps
// between consecutive attempts.
func throttledAttempts(t *testing.T, l *Limiter, skew, wait time.Duration, global bool) []time.Duration {
	t.Helper()

	var at []time.Time
	_, err := l.Do(testContext(t), messages("1", func(context.Context) (*Result, error) {
		now := time.Now()
		at = append(at, now)
		if len(at) <= 2 {
			res := tooMany(wait, global)
			res.Header.Set(headerDate, now.Add(skew).UTC().Format(http.TimeFormat))
			return res, nil
		}
		return okResult(1, time.Time{}), nil
	}))
	require.NoError(t, err)
	require.Len(t, at, 3)

	gaps := make([]time.Duration, 0, len(at)-1)
	for i := 1; i < len(at); i++ {
		gaps = append(gaps, at[i].Sub(at[i-1]))
	}
	return gaps
}

func TestLimiterBucketThrottleWaitsWithSkewedClock(t *testing.T) {
	const wait = 150 * time.Millisecond

	for _, skew := range []time.Duration{-10 * time.Second, 10 * time.Second} {
		t.Run(skew.String(), func(t *testing.T) {
			l := newTestLimiter(t)

			for i, gap := range throttledAttempts(t, l, skew, wait, false) {
				assert.GreaterOrEqual(t, gap, wait, "gap %d", i)
				assert.Less(t, gap, time.Second, "gap %d", i)
			}
			assert.Equal(t, Uncalibrated, l.offset.State())
		})
	}
}

func TestLimiterGlobalThrottleWaitsWithSkewedClock(t *testing.T) {
	const wait = 150 * time.Millisecond

	for _, skew := range []time.Duration{-10 * time.Second, 10 * time.Second} {
		t.Run(skew.String(), func(t *testing.T) {
			l := newTestLimiter(t)

			for i, gap := range throttledAttempts(t, l, skew, wait, true) {
				assert.GreaterOrEqual(t, gap, wait, "gap %d", i)
				assert.Less(t, gap, time.Second, "gap %d", i)
			}

			// A global 429 keeps the offset, and the reset is in server time.
			require.Equal(t, Calibrated, l.offset.State())
			assert.InDelta(t, skew.Seconds(), l.offset.Offset().Seconds(), 1.5)

			reset, err := l.GlobalResetAt(testContext(t))
			require.NoError(t, err)
			assert.InDelta(t, skew.Seconds(), time.Until(reset).Seconds(), 1.5)
		})
	}
}

func TestLimiterGlobalPromotion(t *testing.T) {
	ctx := testContext(t)
	markedGlobal := func(context.Context) (*Result, error) {
		res := okResult(1, time.Time{})
		res.Header.Set(headerGlobal, "true")
		return res, nil
	}
	keyOf := func(l *Limiter, r *Request) BucketKey {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.keyFor(r)
	}

	t.Run("enabled", func(t *testing.T) {
		l := newTestLimiter(t, WithGlobalPromotion())
		_, err := l.Do(ctx, messages("1", markedGlobal))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return keyOf(l, messages("1", succeed)) == GlobalKey("1", true)
		}, time.Second, 5*time.Millisecond)

		// Other endpoints keep their own buckets.
		other := NewRequest(ctx, CurrentUser, http.MethodGet, nil, succeed)
		assert.False(t, keyOf(l, other).Global())
	})

	t.Run("disabled", func(t *testing.T) {
		l := newTestLimiter(t)
		_, err := l.Do(ctx, messages("1", markedGlobal))
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		assert.False(t, keyOf(l, messages("1", succeed)).Global())
	})
}

func TestLimiterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := newTestLimiter(t, WithMetrics(reg))
	ctx := testContext(t)

	var calls atomic.Int32
	_, err := l.Do(ctx, messages("1", func(context.Context) (*Result, error) {
		if calls.Add(1) == 1 {
			return tooMany(10*time.Millisecond, false), nil
		}
		return okResult(1, time.Time{}), nil
	}))
	require.NoError(t, err)
	_, err = l.Do(ctx, messages("2", func(context.Context) (*Result, error) {
		return nil, errors.New("dial tcp: refused")
	}))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.requests.WithLabelValues(outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.requests.WithLabelValues(outcomeTransport)))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.throttles.WithLabelValues("bucket")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(l.metrics.buckets) == 0
	}, time.Second, 5*time.Millisecond)

	// A second limiter on the same registry shares the collectors.
	l2 := newTestLimiter(t, WithMetrics(reg))
	_, err = l2.Do(ctx, messages("3", succeed))
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(l.metrics.requests.WithLabelValues(outcomeSuccess)))
}

func TestLimiterPacer(t *testing.T) {
	g := NewGlobalState(WithPace(rate.Limit(20), 1))
	defer g.Close()
	l := newTestLimiter(t, WithGlobalState(g))
	ctx := testContext(t)

	reqs := make([]*Request, 4)
	start := time.Now()
	for i := range reqs {
		reqs[i] = messages(strconv.Itoa(i), succeed)
		l.Submit(reqs[i])
	}
	for _, r := range reqs {
		_, err := r.Wait(ctx)
		require.NoError(t, err)
	}

	// Three intervals of 50ms after the initial burst.
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestLimiterPacerRechecksGlobalReset(t *testing.T) {
	g := NewGlobalState(WithPace(rate.Limit(5), 1))
	defer g.Close()
	l := newTestLimiter(t, WithGlobalState(g))
	ctx := testContext(t)

	// Spend the burst so the next request waits on the pacer.
	_, err := l.Do(ctx, messages("1", succeed))
	require.NoError(t, err)

	var ranAt time.Time
	second := messages("2", func(context.Context) (*Result, error) {
		ranAt = time.Now()
		return okResult(1, time.Time{}), nil
	})
	start := time.Now()
	l.Submit(second)

	// Another limiter hits the global limit while second is being paced.
	time.Sleep(50 * time.Millisecond)
	_, err = g.Extend(ctx, "test-token", time.Now().Add(400*time.Millisecond))
	require.NoError(t, err)

	_, err = second.Wait(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ranAt.Sub(start), 400*time.Millisecond)
}

func TestLimiterBoundsConcurrentExecutions(t *testing.T) {
	l := newTestLimiter(t, WithWorkers(2))
	ctx := testContext(t)

	var running, peak atomic.Int32
	reqs := make([]*Request, 8)
	for i := range reqs {
		reqs[i] = messages(strconv.Itoa(i), func(context.Context) (*Result, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return okResult(1, time.Time{}), nil
		})
		l.Submit(reqs[i])
	}
	for _, r := range reqs {
		_, err := r.Wait(ctx)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
