package dispatch

import (
	"context"
	"sync"
)

// OriginLocks provides per-origin mutual exclusion for concurrent dispatch.
// Each origin tag gets its own lock, so calls against different surfaces
// run in parallel while calls against one stateful surface (a browser
// session) are serialized.
type OriginLocks struct {
	mu    sync.Mutex               // Guards the locks map itself
	locks map[string]chan struct{} // One-slot semaphore per origin
}

// NewOriginLocks creates an empty lock set.
func NewOriginLocks() *OriginLocks {
	return &OriginLocks{
		locks: make(map[string]chan struct{}),
	}
}

func (l *OriginLocks) slot(origin string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[origin]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[origin] = ch
	}
	return ch
}

// Lock acquires the lock for origin, giving up when ctx is done.
func (l *OriginLocks) Lock(ctx context.Context, origin string) error {
	select {
	case l.slot(origin) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the lock for origin.
func (l *OriginLocks) Unlock(origin string) {
	select {
	case <-l.slot(origin):
	default:
	}
}
