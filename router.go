package restbucket

import (
	"strings"
)

// Router maps concrete request paths back to the Endpoint they belong to.
//
// Matching rules:
//   - an optional "/api" or "/api/vN" prefix is ignored
//   - "%s" in a route matches exactly one non-empty path segment
//   - path segments beyond the route become additional parameters
//   - among matching routes the longest wins, then the one with the most
//     literal segments, then the one bound to the request's method
type Router struct {
	routes []route
}

type route struct {
	endpoint *Endpoint
	segments []string
	literals int
}

// NewRouter creates a router for the given endpoints.
func NewRouter(endpoints ...*Endpoint) *Router {
	rt := &Router{}
	for _, e := range endpoints {
		rt.Add(e)
	}
	return rt
}

// DefaultRouter returns a router for the well-known endpoints.
func DefaultRouter() *Router {
	return NewRouter(Endpoints()...)
}

// Add registers an endpoint.
func (rt *Router) Add(e *Endpoint) {
	segs := splitPath(e.Route)
	literals := 0
	for _, s := range segs {
		if s != "%s" {
			literals++
		}
	}
	rt.routes = append(rt.routes, route{endpoint: e, segments: segs, literals: literals})
}

// Match finds the endpoint for a request and extracts its URL parameters.
func (rt *Router) Match(method, path string) (*Endpoint, []string, bool) {
	segs := stripAPIPrefix(splitPath(path))

	var best *route
	var bestParams []string
	for i := range rt.routes {
		r := &rt.routes[i]
		if r.endpoint.Method != "" && !strings.EqualFold(r.endpoint.Method, method) {
			continue
		}
		params, ok := r.match(segs)
		if !ok {
			continue
		}
		if best == nil || r.beats(best) {
			best, bestParams = r, params
		}
	}

	if best == nil {
		return nil, nil, false
	}
	return best.endpoint, bestParams, true
}

func (r *route) match(segs []string) ([]string, bool) {
	if len(segs) < len(r.segments) {
		return nil, false
	}

	var params []string
	for i, want := range r.segments {
		got := segs[i]
		if want == "%s" {
			if got == "" {
				return nil, false
			}
			params = append(params, got)
			continue
		}
		if want != got {
			return nil, false
		}
	}

	// Surplus segments are trailing parameters.
	params = append(params, segs[len(r.segments):]...)
	return params, true
}

func (r *route) beats(other *route) bool {
	if len(r.segments) != len(other.segments) {
		return len(r.segments) > len(other.segments)
	}
	if r.literals != other.literals {
		return r.literals > other.literals
	}
	return r.endpoint.Method != "" && other.endpoint.Method == ""
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// stripAPIPrefix removes a leading "api" or "api/vN".
func stripAPIPrefix(segs []string) []string {
	if len(segs) == 0 || segs[0] != "api" {
		return segs
	}
	segs = segs[1:]
	if len(segs) > 0 && len(segs[0]) > 1 && segs[0][0] == 'v' && isDigits(segs[0][1:]) {
		segs = segs[1:]
	}
	return segs
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
