package restbucket

import (
	"net/url"
	"strings"
	"time"
)

// NoMajorParam marks an endpoint whose quota is not split by a URL parameter.
const NoMajorParam = -1

// Endpoint describes a class of REST routes that share rate limit behaviour.
//
// Endpoints are compared by identity: two *Endpoint values with identical
// fields are still distinct bucket scopes. Declare each endpoint once and
// reuse the pointer.
type Endpoint struct {
	Name   string // e.g. "channel-messages"
	Route  string // path template, e.g. "/channels/%s/messages"
	Method string // HTTP method used by Router to tell endpoints apart; "" matches any

	// Global marks an endpoint whose quota is shared by every global endpoint
	// of the same credential.
	Global bool

	// MajorParam is the zero-based index of the URL parameter that splits the
	// quota (e.g. the channel id), or NoMajorParam.
	MajorParam int

	// FixedWindow, when non-zero, replaces the X-RateLimit-Reset header: the
	// window reopens FixedWindow after each response.
	FixedWindow time.Duration
}

// MajorParameter returns the value of the endpoint's major parameter within
// params. ok is false when the endpoint has none or params is too short.
func (e *Endpoint) MajorParameter(params []string) (value string, ok bool) {
	if e == nil || e.MajorParam < 0 || e.MajorParam >= len(params) {
		return "", false
	}
	return params[e.MajorParam], true
}

// URL builds the full request URL. Placeholders are filled in order with
// path-escaped params; surplus params are appended as extra path segments.
func (e *Endpoint) URL(base string, params ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))

	route := e.Route
	i := 0
	for {
		idx := strings.Index(route, "%s")
		if idx < 0 {
			break
		}
		b.WriteString(route[:idx])
		if i < len(params) {
			b.WriteString(url.PathEscape(params[i]))
			i++
		}
		route = route[idx+2:]
	}
	b.WriteString(route)

	for ; i < len(params); i++ {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(params[i]))
	}
	return b.String()
}

func (e *Endpoint) String() string {
	if e == nil {
		return "<nil>"
	}
	if e.Name != "" {
		return e.Name
	}
	return e.Route
}
