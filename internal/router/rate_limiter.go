package router

import (
	"sync"
	"time"
)

// DefaultRateLimit is the number of inbound events a connection may send per window.
const DefaultRateLimit = 100

// RateLimiter is a fixed-window limiter keyed by connection id.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*clientWindow
}

type clientWindow struct {
	count int
	start time.Time
}

// NewRateLimiter allows limit events per minute per key. A non-positive
// limit falls back to DefaultRateLimit.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &RateLimiter{
		limit:   limit,
		window:  time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientWindow),
	}
}

// Allow records one event for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[key]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.clients[key] = &clientWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops the window for key; called when a connection closes.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Cleanup removes windows idle for more than five windows. Forget covers
// the normal path; this catches keys whose close was never observed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, w := range rl.clients {
		if now.Sub(w.start) > 5*rl.window {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
