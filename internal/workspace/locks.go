package workspace

import (
	"context"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// Locks is a table of per-key mutexes whose waits honour context cancellation.
// Entries are reference counted and dropped once nobody holds or waits for them.
type Locks struct {
	mu        sync.Mutex
	entries   map[string]*lockEntry
	contended atomic.Int64

	onContention func()
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocks creates an empty lock table. onContention, if non-nil, is called every
// time a Lock call has to wait.
func NewLocks(onContention func()) *Locks {
	return &Locks{
		entries:      make(map[string]*lockEntry),
		onContention: onContention,
	}
}

func (l *Locks) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) unref(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Locks) unlocker(key string, e *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}
}

// Lock blocks until the lock for key is held or ctx ends. The returned function
// releases the lock and is safe to call more than once.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)

	select {
	case e.sem <- struct{}{}:
		return l.unlocker(key, e), nil
	default:
	}

	l.contended.Add(1)
	if l.onContention != nil {
		l.onContention()
	}

	select {
	case e.sem <- struct{}{}:
		return l.unlocker(key, e), nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, errors.WrapError(ctx.Err(), errors.CategoryRuntime, "canceled while waiting for project lock").
			WithContext("workspace", key).
			Build()
	}
}

// TryLock acquires the lock for key only if it is free.
func (l *Locks) TryLock(key string) (func(), bool) {
	e := l.ref(key)
	select {
	case e.sem <- struct{}{}:
		return l.unlocker(key, e), true
	default:
		l.unref(key, e)
		return nil, false
	}
}

// Contended returns how many Lock calls had to wait.
func (l *Locks) Contended() int64 {
	return l.contended.Load()
}

// Len returns the number of keys currently held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
