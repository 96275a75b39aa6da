package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Limiter is a sliding-window log keyed by an arbitrary string
// ARCHITECTURAL DISCOVERY: Per-key state tracking with proper cleanup prevents memory leaks
// Callers choose both the key and the budget so one limiter serves every call site
type Limiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

// Budget is a number of admitted calls per window
type Budget struct {
	Max    int           `json:"max" yaml:"max"`
	Window time.Duration `json:"window" yaml:"window"`
}

// NewLimiter creates a new rate limiter
func NewLimiter() *Limiter {
	return &Limiter{
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// NewLimiterWithClock creates a limiter driven by the given clock
func NewLimiterWithClock(now func() time.Time) *Limiter {
	l := NewLimiter()
	if now != nil {
		l.now = now
	}
	return l
}

// Allow admits and records a call for key if fewer than maxRequests calls
// were admitted within the trailing window. It never errors.
func (l *Limiter) Allow(key string, maxRequests int, window time.Duration) bool {
	if maxRequests <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	attempts := l.history[key]
	fresh := attempts[:0]
	for _, ts := range attempts {
		if ts.After(cutoff) {
			fresh = append(fresh, ts)
		}
	}

	if len(fresh) >= maxRequests {
		l.history[key] = fresh
		return false
	}

	l.history[key] = append(fresh, now)
	return true
}

// AllowBudget is Allow with a Budget value
func (l *Limiter) AllowBudget(key string, b Budget) bool {
	return l.Allow(key, b.Max, b.Window)
}

// Forget discards all state whose key ends with the given owner suffix
// FUNCTIONAL DISCOVERY: Keys are "<scope>:<owner>" so a disconnecting client
// drops every budget it owns in one call
func (l *Limiter) Forget(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	suffix := ":" + owner
	for key := range l.history {
		if strings.HasSuffix(key, suffix) {
			delete(l.history, key)
		}
	}
}

// Cleanup removes keys with no admitted call newer than maxAge
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for key, attempts := range l.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(cutoff) {
			delete(l.history, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// Key joins a scope and an owner into a limiter key
func Key(scope, owner string) string {
	return scope + ":" + owner
}
