package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// window is one client's sliding window of request times.
type window struct {
	stamps   []time.Time
	lastSeen time.Time
}

// ipLimiter rate-limits per client IP, so opening more connections does not
// buy a client more scans.
type ipLimiter struct {
	mu      sync.Mutex
	limit   int
	span    time.Duration
	clients map[string]*window
	now     func() time.Time
}

func newIPLimiter(limit int, span time.Duration) *ipLimiter {
	return &ipLimiter{limit: limit, span: span, clients: make(map[string]*window), now: time.Now}
}

// allow records a request from ip and reports whether it is within the limit.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.clients[ip]
	if w == nil {
		w = &window{}
		l.clients[ip] = w
	}
	w.lastSeen = now

	cutoff := now.Add(-l.span)
	valid := w.stamps[:0]
	for _, t := range w.stamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	w.stamps = valid

	if len(w.stamps) >= l.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// cleanup drops clients idle for longer than ttl.
func (l *ipLimiter) cleanup(ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-ttl)
	removed := 0
	for ip, w := range l.clients {
		if w.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

func (l *ipLimiter) cleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(IPRateLimitCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.cleanup(IPRateLimitEntryTTL)
		}
	}
}

// middleware rejects over-limit requests with 429.
func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "RATE_LIMITED"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
