// Package discordtest provides a fake REST API that enforces per-bucket and
// account-wide rate limits and reports them with the same headers and 429
// bodies as the real service.
package discordtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Config controls the limits enforced by a Server.
type Config struct {
	// Limit is the number of calls per Window and bucket. Default 5.
	Limit int
	// Window is the length of a bucket window. Default 1s.
	Window time.Duration

	// GlobalLimit is the number of calls per GlobalWindow across all
	// buckets. Zero disables the global limit.
	GlobalLimit  int
	GlobalWindow time.Duration

	// SendDate adds a Date header to every response. It has one-second
	// resolution, so it is off by default.
	SendDate bool

	// Latency delays every response.
	Latency time.Duration

	// Status is returned for calls that are not rate limited. Default 200.
	Status int

	// Bucket maps a request to its bucket. Default is the request path.
	Bucket func(r *http.Request) string
}

// Hit records one call received by the server.
type Hit struct {
	Bucket string
	Method string
	Path   string
	Body   string
	At     time.Time
	Status int
	Global bool
}

// Server is a rate limited fake API.
type Server struct {
	*httptest.Server

	cfg Config

	mu      sync.Mutex
	buckets map[string]*window
	global  window
	hits    []Hit
}

type window struct {
	remaining int
	reset     time.Time
}

// take consumes a call from w, opening a new window when the old one has
// passed. It returns the wait until the window reopens when w is exhausted.
func (w *window) take(now time.Time, limit int, length time.Duration) (bool, time.Duration) {
	if !now.Before(w.reset) {
		w.remaining = limit
		w.reset = now.Add(length)
	}
	if w.remaining <= 0 {
		return false, w.reset.Sub(now)
	}
	w.remaining--
	return true, 0
}

// NewServer starts a Server. Close it when done.
func NewServer(cfg Config) *Server {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = time.Second
	}
	if cfg.Status == 0 {
		cfg.Status = http.StatusOK
	}
	if cfg.Bucket == nil {
		cfg.Bucket = func(r *http.Request) string { return r.URL.Path }
	}

	s := &Server{cfg: cfg, buckets: make(map[string]*window)}
	s.Server = httptest.NewServer(s)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Latency > 0 {
		time.Sleep(s.cfg.Latency)
	}
	body, _ := io.ReadAll(r.Body)

	key := s.cfg.Bucket(r)
	now := time.Now()
	hit := Hit{Bucket: key, Method: r.Method, Path: r.URL.Path, Body: string(body), At: now}

	s.mu.Lock()
	if s.cfg.GlobalLimit > 0 {
		if ok, wait := s.global.take(now, s.cfg.GlobalLimit, s.cfg.GlobalWindow); !ok {
			hit.Status, hit.Global = http.StatusTooManyRequests, true
			s.hits = append(s.hits, hit)
			s.mu.Unlock()

			s.writeDate(w, now)
			w.Header().Set("X-RateLimit-Global", "true")
			w.Header().Set("X-RateLimit-Scope", "global")
			writeTooMany(w, wait, true)
			return
		}
	}

	win, ok := s.buckets[key]
	if !ok {
		win = &window{}
		s.buckets[key] = win
	}
	allowed, wait := win.take(now, s.cfg.Limit, s.cfg.Window)
	remaining, reset := win.remaining, win.reset

	hit.Status = s.cfg.Status
	if !allowed {
		hit.Status = http.StatusTooManyRequests
	}
	s.hits = append(s.hits, hit)
	s.mu.Unlock()

	h := w.Header()
	s.writeDate(w, now)
	h.Set("X-RateLimit-Bucket", key)
	h.Set("X-RateLimit-Limit", strconv.Itoa(s.cfg.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", epochSeconds(reset))
	h.Set("X-RateLimit-Reset-After", strconv.FormatFloat(reset.Sub(now).Seconds(), 'f', 3, 64))

	if !allowed {
		h.Set("X-RateLimit-Scope", "user")
		writeTooMany(w, wait, false)
		return
	}

	h.Set("Content-Type", "application/json")
	w.WriteHeader(s.cfg.Status)
	json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path, "method": r.Method})
}

func (s *Server) writeDate(w http.ResponseWriter, now time.Time) {
	if s.cfg.SendDate {
		w.Header().Set("Date", now.UTC().Format(http.TimeFormat))
		return
	}
	// Suppresses the header net/http would add.
	w.Header()["Date"] = nil
}

func writeTooMany(w http.ResponseWriter, wait time.Duration, global bool) {
	w.Header().Set("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "You are being rate limited.",
		"retry_after": float64(wait) / float64(time.Millisecond),
		"global":      global,
	})
}

// epochSeconds formats t as decimal seconds, rounded up to the millisecond
// so that a client waiting until then never arrives early.
func epochSeconds(t time.Time) string {
	ms := (t.UnixNano() + int64(time.Millisecond) - 1) / int64(time.Millisecond)
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// Hits returns every call received so far, in arrival order.
func (s *Server) Hits() []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hit(nil), s.hits...)
}

// Throttled returns how many calls were answered with 429.
func (s *Server) Throttled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		if h.Status == http.StatusTooManyRequests {
			n++
		}
	}
	return n
}

// Count returns how many calls bucket received.
func (s *Server) Count(bucket string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		if h.Bucket == bucket {
			n++
		}
	}
	return n
}
