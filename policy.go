package restbucket

import "time"

// Scope tells which quota a 429 response refers to.
type Scope int

const (
	// ScopeBucket pauses only the bucket that received the 429.
	ScopeBucket Scope = iota
	// ScopeGlobal pauses every bucket of the credential.
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopeBucket:
		return "bucket"
	case ScopeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds how long a rate limited request keeps being retried.
// The zero value retries forever, always honouring the server's retry_after.
type RetryPolicy struct {
	// MaxAttempts abandons a request once it has been answered with 429 this
	// many times. Zero means unlimited.
	MaxAttempts int

	// MaxWait abandons a request as soon as a single retry_after exceeds it.
	// Zero means unlimited.
	MaxWait time.Duration
}

// giveUp reports whether a request throttled attempts times with the given
// retry_after should be abandoned.
func (p RetryPolicy) giveUp(attempts int, retryAfter time.Duration) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	return p.MaxWait > 0 && retryAfter > p.MaxWait
}

// Throttle describes a 429 response observed by the limiter.
type Throttle struct {
	Key        BucketKey
	Scope      Scope
	RetryAfter time.Duration
	RequestID  string
	Attempt    int
}
