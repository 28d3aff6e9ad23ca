package restbucket

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned for requests submitted to, or still queued in, a
	// closed Limiter.
	ErrClosed = errors.New("restbucket: limiter closed")

	// ErrThrottled is returned when a RetryPolicy gives up on a request that
	// keeps being rate limited.
	ErrThrottled = errors.New("restbucket: rate limited")
)

// ThrottledError provides details about a request abandoned by the
// RetryPolicy.
type ThrottledError struct {
	Key        BucketKey
	Scope      Scope
	Attempts   int
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("restbucket: rate limited on %s (%s) after %d attempts, retry after %s",
		e.Key, e.Scope, e.Attempts, e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error {
	return ErrThrottled
}
