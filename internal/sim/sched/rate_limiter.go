package sched

import (
	"sync"
	"time"
)

// RateLimiter allows at most MaxEvents registrations in any rolling Window.
// It keeps the timestamps of the last MaxEvents registrations in a ring.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	times  []time.Time
	head   int
	count  int
}

func NewRateLimiter(maxEvents int, window time.Duration) *RateLimiter {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{window: window, times: make([]time.Time, maxEvents)}
}

func (r *RateLimiter) MaxEvents() int        { return len(r.times) }
func (r *RateLimiter) Window() time.Duration { return r.window }

// Wait returns how long the caller must wait at now before the next event fits.
func (r *RateLimiter) Wait(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitLocked(now)
}

func (r *RateLimiter) waitLocked(now time.Time) time.Duration {
	if r.count < len(r.times) {
		return 0
	}
	elapsed := now.Sub(r.times[r.head])
	if elapsed >= r.window {
		return 0
	}
	return r.window - elapsed
}

// Register records an event at now, evicting the oldest once the ring is full.
func (r *RateLimiter) Register(now time.Time) {
	r.mu.Lock()
	r.registerLocked(now)
	r.mu.Unlock()
}

func (r *RateLimiter) registerLocked(now time.Time) {
	n := len(r.times)
	if r.count < n {
		r.times[(r.head+r.count)%n] = now
		r.count++
		return
	}
	r.times[r.head] = now
	r.head = (r.head + 1) % n
}

// TryRegister registers an event at now if the budget allows it.
func (r *RateLimiter) TryRegister(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitLocked(now) > 0 {
		return false
	}
	r.registerLocked(now)
	return true
}
