package restbucket

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Result is a response as observed by the limiter.
type Result struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// APIError is returned for responses that are neither 2xx nor 429.
// Executors may also return it themselves; the embedded Result is then used
// to keep the bucket's rate limit state current.
type APIError struct {
	Result *Result
}

func (e *APIError) Error() string {
	if e.Result == nil {
		return "restbucket: api error"
	}
	return fmt.Sprintf("restbucket: api error: status %d", e.Result.StatusCode)
}

// Executor performs one network call for a request. It is invoked once per
// attempt and must be safe to call again after a 429.
type Executor func(ctx context.Context) (*Result, error)

// Request is a unit of work submitted to a Limiter. Its outcome is delivered
// exactly once through Wait, Done and Outcome.
type Request struct {
	ID       string
	Endpoint *Endpoint
	Method   string
	Params   []string

	ctx      context.Context
	exec     Executor
	attempts int // throttled attempts, touched only by the drain worker

	once sync.Once
	done chan struct{}
	res  *Result
	err  error
}

// NewRequest creates a request for endpoint e. ctx is passed to exec on
// every attempt; a request whose ctx is done before it runs is resolved with
// ctx.Err() and never executed.
func NewRequest(ctx context.Context, e *Endpoint, method string, params []string, exec Executor) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Request{
		ID:       uuid.NewString(),
		Endpoint: e,
		Method:   method,
		Params:   params,
		ctx:      ctx,
		exec:     exec,
		done:     make(chan struct{}),
	}
}

// Key returns the bucket key the request is serialized on.
func (r *Request) Key() BucketKey {
	return KeyFor(r.Endpoint, r.Params)
}

// Context returns the request's context.
func (r *Request) Context() context.Context {
	return r.ctx
}

// Done is closed once the request has been resolved.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the result once Done is closed. Before that it returns
// nil, nil.
func (r *Request) Outcome() (*Result, error) {
	select {
	case <-r.done:
		return r.res, r.err
	default:
		return nil, nil
	}
}

// Wait blocks until the request is resolved or ctx is done. Giving up on
// ctx does not withdraw the request from its bucket.
func (r *Request) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve fulfils the request. Only the first call has any effect.
func (r *Request) resolve(res *Result, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.res, r.err = res, err
		close(r.done)
		resolved = true
	})
	return resolved
}
