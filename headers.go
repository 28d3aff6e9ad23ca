package restbucket

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerGlobal     = "X-RateLimit-Global"
	headerRetryAfter = "Retry-After"
	headerDate       = "Date"
)

// remaining parses X-RateLimit-Remaining, defaulting to 1.
func remaining(h http.Header) (int64, error) {
	v := strings.TrimSpace(h.Get(headerRemaining))
	if v == "" {
		return 1, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("restbucket: parse %s %q: %w", headerRemaining, v, err)
	}
	return n, nil
}

// resetAt parses X-RateLimit-Reset (decimal seconds since the epoch),
// defaulting to the epoch.
func resetAt(h http.Header) (time.Time, error) {
	v := strings.TrimSpace(h.Get(headerReset))
	if v == "" {
		return time.UnixMilli(0), nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, fmt.Errorf("restbucket: parse %s %q: invalid epoch", headerReset, v)
	}
	return time.UnixMilli(int64(math.Round(secs * 1000))), nil
}

// throttleBody is the JSON body of a 429 response.
type throttleBody struct {
	RetryAfter *float64 `json:"retry_after"`
	Global     bool     `json:"global"`
}

// throttle extracts the wait and scope of a 429 response. retry_after in the
// body is in milliseconds; without it the Retry-After header (seconds) is
// used. The response is global when either the header or the body says so.
func throttle(res *Result) (wait time.Duration, scope Scope, err error) {
	var body throttleBody
	if len(res.Body) > 0 {
		if jerr := json.Unmarshal(res.Body, &body); jerr != nil {
			err = fmt.Errorf("restbucket: decode 429 body: %w", jerr)
		}
	}

	scope = ScopeBucket
	if body.Global || globalFlag(res.Header) {
		scope = ScopeGlobal
	}

	switch {
	case body.RetryAfter != nil:
		wait = time.Duration(math.Max(*body.RetryAfter, 0) * float64(time.Millisecond))
	case res.Header.Get(headerRetryAfter) != "":
		v := strings.TrimSpace(res.Header.Get(headerRetryAfter))
		secs, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return 0, scope, fmt.Errorf("restbucket: parse %s %q: %w", headerRetryAfter, v, perr)
		}
		wait = time.Duration(math.Max(secs, 0) * float64(time.Second))
	}
	return wait, scope, err
}

// globalFlag reports whether h marks the response as account-wide.
func globalFlag(h http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get(headerGlobal)), "true")
}
