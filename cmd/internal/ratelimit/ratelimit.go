// Package ratelimit implements a keyed sliding-window limiter.
//
// Each key owns a fixed-capacity ring of event timestamps. Expired timestamps are dropped lazily
// on every check and idle keys are swept periodically, so memory stays bounded by the number of
// recently active keys times the limit.
package ratelimit

import (
	"sync"
	"time"
)

const sweepEvery = 1024

// Limiter is safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	keys   map[string]*ring
	checks uint64
}

// ring holds up to cap(ts) timestamps, oldest at head.
type ring struct {
	ts   []time.Time
	head int
	n    int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter allowing limit events per trailing window for each key.
// Non-positive inputs fall back to 1 event per second.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		keys:   make(map[string]*ring),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// IsRateLimited records an event for key and reports whether key is over budget.
// A limited event is not recorded.
func (l *Limiter) IsRateLimited(key string) bool {
	return !l.Allow(key)
}

// Allow records an event for key if it fits in the window.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	cut := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%sweepEvery == 0 {
		l.sweepLocked(cut)
	}

	r, ok := l.keys[key]
	if !ok {
		r = &ring{ts: make([]time.Time, l.limit)}
		l.keys[key] = r
	}

	r.evict(cut)
	if r.n >= len(r.ts) {
		return false
	}
	r.ts[(r.head+r.n)%len(r.ts)] = now
	r.n++
	return true
}

// Forget drops all state for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Limiter) sweepLocked(cut time.Time) {
	for k, r := range l.keys {
		r.evict(cut)
		if r.n == 0 {
			delete(l.keys, k)
		}
	}
}

func (r *ring) evict(cut time.Time) {
	for r.n > 0 && !r.ts[r.head].After(cut) {
		r.head = (r.head + 1) % len(r.ts)
		r.n--
	}
}
