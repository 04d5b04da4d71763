// Package pairlock provides a keyed mutual-exclusion primitive.
//
// A Locker serializes critical sections that share a key while letting different keys run in
// parallel. Chat threads and refresh-token rotation each own a separate Locker so their keys can
// never contend with each other.
package pairlock

import (
	"context"
	"sync"
)

// Locker maps string keys to mutually-exclusive critical sections.
// The zero value is not usable; call New.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Key returns the order-independent key for an unordered pair of ids.
func Key(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Run waits until no other critical section holds key, then runs fn.
//
// Waiting honors ctx: a caller that gives up before its turn returns ctx.Err() and never runs fn.
// Once fn starts it receives a context detached from the caller's cancellation, so work inside the
// critical section always runs to completion. Calls to Run for the same key made with that context
// execute inline instead of deadlocking.
func (l *Locker) Run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if holds(ctx, l, key) {
		return fn(ctx)
	}

	e := l.ref(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return ctx.Err()
	}

	defer func() {
		<-e.sem
		l.unref(key, e)
	}()

	inner := context.WithValue(context.WithoutCancel(ctx), heldKey{}, &held{locker: l, key: key, parent: heldFrom(ctx)})
	return fn(inner)
}

// Len reports how many keys currently have holders or waiters.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// held is a linked list of keys owned by the current call chain.
type held struct {
	locker *Locker
	key    string
	parent *held
}

type heldKey struct{}

func heldFrom(ctx context.Context) *held {
	h, _ := ctx.Value(heldKey{}).(*held)
	return h
}

func holds(ctx context.Context, l *Locker, key string) bool {
	for h := heldFrom(ctx); h != nil; h = h.parent {
		if h.locker == l && h.key == key {
			return true
		}
	}
	return false
}
