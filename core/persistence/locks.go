package persistence

import "sync"

type classLock struct {
	mu   sync.Mutex
	refs int
}

// classLocks serializes mutations per class name. Entries are dropped once
// nobody holds or waits for them.
type classLocks struct {
	mu    sync.Mutex
	locks map[string]*classLock
}

func newClassLocks() *classLocks {
	return &classLocks{locks: make(map[string]*classLock)}
}

// Lock blocks until the caller owns className and returns the release func.
func (l *classLocks) Lock(className string) func() {
	l.mu.Lock()
	entry, ok := l.locks[className]
	if !ok {
		entry = &classLock{}
		l.locks[className] = entry
	}
	entry.refs++
	l.mu.Unlock()

	classLockWaiters.Inc()
	entry.mu.Lock()
	classLockWaiters.Dec()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, className)
		}
		l.mu.Unlock()
	}
}

// held reports how many callers hold or wait for className.
func (l *classLocks) held(className string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.locks[className]; ok {
		return entry.refs
	}
	return 0
}
