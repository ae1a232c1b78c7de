package websocket

import (
	"sync"
	"time"
)

// RateLimiter caps relayed messages per participant per minute window.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	return &RateLimiter{
		limit:   perMinute,
		clients: make(map[string]*clientWindow),
	}
}

// Allow reports whether the participant may send another message in the
// current window.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.clients[userID]
	if !ok || now.Sub(w.windowStart) >= time.Minute {
		rl.clients[userID] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops a participant's window, e.g. on disconnect.
func (rl *RateLimiter) Forget(userID string) {
	rl.mu.Lock()
	delete(rl.clients, userID)
	rl.mu.Unlock()
}
