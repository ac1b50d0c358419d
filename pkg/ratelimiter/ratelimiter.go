package ratelimiter

import (
	"sync"
	"time"
)

// budgetWindow tracks spent budget and its reset deadline for one client.
type budgetWindow struct {
	spent     int
	resetTime time.Time
}

// RateLimiter implements per-client budget limiting over fixed windows.
// Requests carry a cost: transaction builds hit the SDK sidecar and the
// oracle, so they spend more budget than cached market reads.
type RateLimiter struct {
	windows map[string]*budgetWindow
	mutex   sync.RWMutex
	budget  int
	span    time.Duration
}

// New creates a RateLimiter granting each client the given budget per
// window span.
func New(budget int, span time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*budgetWindow),
		budget:  budget,
		span:    span,
	}
}

// Allow spends cost from the client's window budget. It reports false,
// spending nothing, when the remaining budget does not cover the cost.
func (rl *RateLimiter) Allow(client string, cost int) bool {
	if cost < 1 {
		cost = 1
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()

	window, exists := rl.windows[client]
	if !exists || now.After(window.resetTime) {
		if cost > rl.budget {
			return false
		}
		rl.windows[client] = &budgetWindow{
			spent:     cost,
			resetTime: now.Add(rl.span),
		}
		return true
	}

	if window.spent+cost > rl.budget {
		return false
	}
	window.spent += cost
	return true
}

// Remaining reports the client's unspent budget and window reset time.
func (rl *RateLimiter) Remaining(client string) (int, time.Time) {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	window, exists := rl.windows[client]
	if !exists || time.Now().After(window.resetTime) {
		return rl.budget, time.Now().Add(rl.span)
	}

	remaining := rl.budget - window.spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, window.resetTime
}

// Cleanup removes expired windows to prevent memory leaks.
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for client, window := range rl.windows {
		if now.After(window.resetTime) {
			delete(rl.windows, client)
		}
	}
}
