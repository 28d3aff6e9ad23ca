package restbucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// drain is the bucket's worker. It serves the head of the queue until the
// queue is empty and the bucket has been removed from the registry.
func (l *Limiter) drain(b *Bucket) {
	defer l.wg.Done()

	for {
		l.serve(b, l.head(b))
		if !l.advance(b) {
			return
		}
	}
}

// serve runs r until it is resolved. Rate limited attempts are retried in
// place, so r keeps its position at the head of the queue.
func (l *Limiter) serve(b *Bucket, r *Request) {
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	for {
		if err := l.await(ctx, b, r); err != nil {
			if l.ctx.Err() != nil {
				l.complete(r, nil, ErrClosed, outcomeClosed)
			} else {
				l.complete(r, nil, err, outcomeCanceled)
			}
			return
		}

		res, err := l.execute(ctx, r)
		responseAt := l.now()
		if l.settle(b, r, res, err, responseAt) {
			return
		}
	}
}

// await blocks until neither the bucket nor the credential's global quota
// forbids a call and a token has been taken from the pacer, if one is
// configured. Both timestamps are read again after every sleep, pacer
// included, since a 429 elsewhere may have moved them.
func (l *Limiter) await(ctx context.Context, b *Bucket, r *Request) error {
	var waited time.Duration
	paced := l.pacer == nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d := b.delay(l.serverNow(), l.globalReset(ctx))
		if d <= 0 {
			if paced {
				break
			}
			if err := l.pacer.Wait(ctx); err != nil {
				return err
			}
			paced = true
			continue
		}

		l.log.Debug("delaying request to respect rate limit",
			zap.String("bucket", b.key.String()),
			zap.String("request_id", r.ID),
			zap.Duration("wait", d))

		waited += d
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	if waited > 0 {
		l.metrics.wait.Observe(waited.Seconds())
	}
	return nil
}

// execute runs one attempt of r on a worker slot.
func (l *Limiter) execute(ctx context.Context, r *Request) (res *Result, err error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.slots }()

	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("restbucket: executor panicked: %v", p)
		}
	}()

	if r.exec == nil {
		return nil, errors.New("restbucket: request has no executor")
	}
	res, err = r.exec(ctx)
	if res == nil && err == nil {
		err = errors.New("restbucket: executor returned neither result nor error")
	}
	return res, err
}

// settle interprets the outcome of an attempt and updates the bucket.
// It reports false when r must be retried.
func (l *Limiter) settle(b *Bucket, r *Request, res *Result, err error, responseAt time.Time) bool {
	source := res
	var apiErr *APIError
	if err != nil {
		source = nil
		if errors.As(err, &apiErr) {
			source = apiErr.Result
		}
	}

	if source != nil {
		l.calibrate(source, responseAt)
		if source.StatusCode == http.StatusTooManyRequests {
			return l.throttled(b, r, source, responseAt)
		}
	}

	switch {
	case err != nil && source == nil && l.ctx.Err() != nil && errors.Is(err, context.Canceled):
		l.complete(r, nil, ErrClosed, outcomeClosed)
	case err != nil && source == nil:
		l.complete(r, nil, err, outcomeTransport)
	case err != nil:
		l.complete(r, nil, err, outcomeAPIError)
	case res.StatusCode >= 200 && res.StatusCode < 300:
		l.complete(r, res, nil, outcomeSuccess)
	default:
		l.complete(r, nil, &APIError{Result: res}, outcomeAPIError)
	}

	if source != nil {
		l.bookkeep(b, r, source, responseAt)
	}
	return true
}

// throttled handles a 429 response. The request stays queued unless the
// retry policy gives up on it.
func (l *Limiter) throttled(b *Bucket, r *Request, res *Result, responseAt time.Time) bool {
	wait, scope, err := throttle(res)
	if err != nil {
		l.log.Error("failed to read rate limit response",
			zap.String("bucket", b.key.String()),
			zap.Error(err))
	}
	r.attempts++

	fields := []zap.Field{
		zap.String("bucket", b.key.String()),
		zap.String("request_id", r.ID),
		zap.Duration("retry_after", wait),
		zap.Int("attempt", r.attempts),
	}

	switch scope {
	case ScopeGlobal:
		l.log.Warn("hit account-wide rate limit, pausing all buckets of this credential", fields...)
		until := responseAt.Add(l.offset.Offset()).Add(wait)
		if _, err := l.global.Extend(l.ctx, l.credential, until); err != nil {
			l.log.Error("failed to record global rate limit", append(fields, zap.Error(err))...)
			// Hold back at least this bucket.
			b.setRemaining(0)
			b.setResetAt(until)
		}
	default:
		l.log.Debug("hit bucket rate limit, recalibrating clock offset", fields...)
		l.offset.Invalidate()
		// Same frame as serverNow, which no longer includes the old offset.
		b.setRemaining(0)
		b.setResetAt(responseAt.Add(l.offset.Offset()).Add(wait))
	}

	l.metrics.throttles.WithLabelValues(scope.String()).Inc()
	if l.onThrottle != nil {
		l.onThrottle(Throttle{
			Key:        b.key,
			Scope:      scope,
			RetryAfter: wait,
			RequestID:  r.ID,
			Attempt:    r.attempts,
		})
	}

	if !l.policy.giveUp(r.attempts, wait) {
		return false
	}

	l.log.Warn("giving up on rate limited request", fields...)
	l.complete(r, nil, &ThrottledError{
		Key:        b.key,
		Scope:      scope,
		Attempts:   r.attempts,
		RetryAfter: wait,
	}, outcomeThrottled)
	return true
}

// bookkeep copies the quota reported by res into b. Malformed headers are
// logged and otherwise ignored.
func (l *Limiter) bookkeep(b *Bucket, r *Request, res *Result, responseAt time.Time) {
	if l.promote && r.Endpoint != nil && !b.key.Global() && globalFlag(res.Header) {
		l.promoteGlobal(r.Endpoint)
	}

	n, err := remaining(res.Header)
	if err != nil {
		l.log.Error("ignoring malformed rate limit header",
			zap.String("bucket", b.key.String()), zap.Error(err))
	} else {
		b.setRemaining(n)
	}

	if r.Endpoint != nil && r.Endpoint.FixedWindow > 0 {
		b.setResetAt(responseAt.Add(l.offset.Offset()).Add(r.Endpoint.FixedWindow))
		return
	}

	reset, err := resetAt(res.Header)
	if err != nil {
		l.log.Error("ignoring malformed rate limit header",
			zap.String("bucket", b.key.String()), zap.Error(err))
		return
	}
	b.setResetAt(reset)
}

// calibrate estimates the clock offset from res if it is not known yet.
func (l *Limiter) calibrate(res *Result, responseAt time.Time) {
	ok, err := l.offset.Observe(res.Header.Get(headerDate), responseAt)
	if err != nil {
		l.log.Error("failed to calibrate clock offset", zap.Error(err))
		return
	}
	if ok {
		l.log.Debug("calibrated clock offset", zap.Duration("offset", l.offset.Offset()))
	}
}

// serverNow estimates the server's current time.
func (l *Limiter) serverNow() time.Time {
	return l.now().Add(l.offset.Offset())
}

// globalReset returns the credential's global reset. Store failures are
// logged and treated as no global limit.
func (l *Limiter) globalReset(ctx context.Context) time.Time {
	t, err := l.global.resetAtFrom(ctx, l.credential, l.serverNow())
	if err != nil {
		if ctx.Err() == nil {
			l.log.Error("failed to read global rate limit", zap.Error(err))
		}
		return time.Time{}
	}
	return t
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
