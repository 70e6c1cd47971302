package auth

import (
	"sync"
	"time"
)

// Login throttling: 5 submissions per IP per minute. The attempt that
// exceeds the limit is rejected before the credential store is consulted.
var (
	loginWindow      = time.Minute
	maxLoginAttempts = 5
)

type attemptWindow struct {
	count int
	start time.Time
}

// RateLimiter counts attempts per client key inside a fixed window.
// Increment-and-check runs under a single lock so concurrent submissions
// from one client cannot exceed the limit.
type RateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*attemptWindow

	now func() time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		entries: make(map[string]*attemptWindow),
		now:     time.Now,
	}
}

// Allow records one attempt for key. It reports whether the attempt stays
// within the limit and, when blocked, how long until the window resets.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.start) >= l.window {
		l.entries[key] = &attemptWindow{count: 1, start: now}
		l.prune(now)
		return true, 0
	}

	entry.count++
	if entry.count > l.max {
		return false, entry.start.Add(l.window).Sub(now)
	}
	return true, 0
}

// prune drops expired windows so the map does not grow with one entry per
// client forever. Called with the lock held.
func (l *RateLimiter) prune(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.start) >= l.window {
			delete(l.entries, key)
		}
	}
}
