package restbucket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// transport implements http.RoundTripper and routes every request that
// belongs to a known endpoint through the limiter.
type transport struct {
	limiter *Limiter
	base    http.RoundTripper
	router  *Router
}

// Transport wraps an http.RoundTripper so that all requests made through it
// are scheduled by the limiter. Requests the router cannot match are passed
// straight to base. Rate limited attempts are retried transparently; every
// other response, whatever its status, is returned to the caller.
func (l *Limiter) Transport(base http.RoundTripper, router *Router) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if router == nil {
		router = DefaultRouter()
	}
	return &transport{limiter: l, base: base, router: router}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	e, params, ok := t.router.Match(req.Method, req.URL.Path)
	if !ok {
		return t.base.RoundTrip(req)
	}

	// The body is replayed on every attempt.
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	exec := func(ctx context.Context) (*Result, error) {
		out := req.Clone(ctx)
		if body != nil {
			out.Body = io.NopCloser(bytes.NewReader(body))
			out.ContentLength = int64(len(body))
			out.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
		}

		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &Result{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
			Body:       data,
		}, nil
	}

	res, err := t.limiter.Do(req.Context(), NewRequest(req.Context(), e, req.Method, params, exec))
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Result != nil {
		res, err = apiErr.Result, nil
	}
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:        res.Status,
		StatusCode:    res.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        res.Header,
		Body:          io.NopCloser(bytes.NewReader(res.Body)),
		ContentLength: int64(len(res.Body)),
		Request:       req,
	}, nil
}
