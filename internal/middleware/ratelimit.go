package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// sweepThreshold is the number of tracked clients above which expired
// windows are purged when a new window opens.
const sweepThreshold = 1024

type window struct {
	count int
	ends  time.Time
}

// RateLimiter is a fixed window counter per client IP. A limiter with a
// non-positive limit allows everything.
type RateLimiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records one request for key. When the window is exhausted it reports
// how long until the next one opens.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.ends) {
		if len(l.windows) >= sweepThreshold {
			l.sweep(now)
		}
		w = &window{ends: now.Add(l.period)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false, w.ends.Sub(now)
	}
	w.count++
	return true, 0
}

func (l *RateLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.ends) {
			delete(l.windows, key)
		}
	}
}

// Handler rejects requests over the limit with 429 and a Retry-After header.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	if l.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(remoteHost(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteHost keys clients by the host part of RemoteAddr, which chi's RealIP
// has already rewritten from forwarding headers.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
