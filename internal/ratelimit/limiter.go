// Package ratelimit implements bytebin's fixed-window per-IP rate limiter
// and the not-found backoff limiter, both backed by patrickmn/go-cache's
// TTL map — an exact fit for "a key maps to an integer that expires after
// the window elapses since first write."
package ratelimit

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Limiter is a fixed-window counter keyed by an arbitrary string (in
// practice, the caller's effective IP). Each key's window starts on its
// first increment and expires after Window elapses; the counter is not
// reset early.
type Limiter struct {
	cache  *gocache.Cache
	window time.Duration
	max    int64
}

// New creates a Limiter allowing at most max actions per window. The
// cache's janitor sweeps expired windows twice as often as the window
// itself, bounding memory use without adding a second timer.
func New(window time.Duration, max int64) *Limiter {
	return &Limiter{
		cache:  gocache.New(window, window/2),
		window: window,
		max:    max,
	}
}

// IncrementAndCheck atomically increments key's counter and reports
// whether the new count exceeds the configured maximum.
func (l *Limiter) IncrementAndCheck(key string) bool {
	if err := l.cache.Add(key, int64(1), l.window); err == nil {
		return int64(1) > l.max
	}

	n, err := l.cache.IncrementInt64(key, 1)
	if err != nil {
		// Raced an expiry between Add's failure and Increment: the window
		// just rolled over under us. Starting a fresh window is correct.
		l.cache.Set(key, int64(1), l.window)
		return int64(1) > l.max
	}
	return n > l.max
}

// NotFoundLimiter deters key-space scanning: each GET miss for a given key
// doubles the backoff window before that key is allowed to probe again.
type NotFoundLimiter struct {
	cache   *gocache.Cache
	initial time.Duration
	max     time.Duration
}

// NewNotFoundLimiter creates a NotFoundLimiter whose backoff starts at
// initial and doubles on every miss, capped at max.
func NewNotFoundLimiter(initial, max time.Duration) *NotFoundLimiter {
	return &NotFoundLimiter{
		cache:   gocache.New(max, max/2),
		initial: initial,
		max:     max,
	}
}

// Blocked reports whether key is currently within a backoff window.
func (l *NotFoundLimiter) Blocked(key string) bool {
	_, found := l.cache.Get(key)
	return found
}

// RecordMiss registers another not-found for key, doubling its backoff
// duration from whatever it last was (or starting at initial).
func (l *NotFoundLimiter) RecordMiss(key string) {
	current := l.initial
	if v, found := l.cache.Get(key); found {
		if d, ok := v.(time.Duration); ok {
			current = d * 2
			if current > l.max {
				current = l.max
			}
		}
	}
	l.cache.Set(key, current, current)
}
