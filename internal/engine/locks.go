package engine

import "sync"

// taskLocks serializes remote read-modify-write cycles per task, and the
// entry and departure passes per trigger. A trigger lock may be held while
// taking a task lock, never the reverse. It is separate from the tracking
// state lock, which is never held across network calls.
type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[string]*taskLock)}
}

func (l *taskLocks) lock(task string) func() {
	l.mu.Lock()
	entry, ok := l.locks[task]
	if !ok {
		entry = &taskLock{}
		l.locks[task] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, task)
		}
		l.mu.Unlock()
	}
}
