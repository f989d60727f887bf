package inbox

import "sync"

// handleLocks serializes work per participant handle. Entries are dropped
// once no goroutine holds or waits for them.
type handleLocks struct {
	mu    sync.Mutex
	locks map[string]*handleLock
}

type handleLock struct {
	mu   sync.Mutex
	refs int
}

func newHandleLocks() *handleLocks {
	return &handleLocks{locks: make(map[string]*handleLock)}
}

// lock acquires the lock for handle and returns its release func
func (l *handleLocks) lock(handle string) func() {
	l.mu.Lock()
	hl, ok := l.locks[handle]
	if !ok {
		hl = &handleLock{}
		l.locks[handle] = hl
	}
	hl.refs++
	l.mu.Unlock()

	hl.mu.Lock()
	return func() {
		hl.mu.Unlock()
		l.mu.Lock()
		hl.refs--
		if hl.refs == 0 {
			delete(l.locks, handle)
		}
		l.mu.Unlock()
	}
}

func (l *handleLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
