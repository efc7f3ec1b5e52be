package services

import "sync"

// executionLocks serializes mutations per execution. All services that
// write to an execution's records (the execution itself, its steps,
// approvals and logs) take the same lock, so concurrent requests are
// applied one at a time and validated against fresh state.
//
// Entries are reference counted and dropped when the last holder
// releases, so the map tracks in-flight executions rather than every
// execution the process has ever touched.
type executionLocks struct {
	mu    sync.Mutex
	locks map[string]*executionLock
}

type executionLock struct {
	sync.Mutex

	holders int
}

func newExecutionLocks() *executionLocks {
	return &executionLocks{locks: make(map[string]*executionLock)}
}

// acquire locks the mutex for the given execution and returns its unlock.
func (l *executionLocks) acquire(executionID string) func() {
	l.mu.Lock()

	lock, ok := l.locks[executionID]
	if !ok {
		lock = &executionLock{}
		l.locks[executionID] = lock
	}

	lock.holders++

	l.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		l.mu.Lock()

		lock.holders--
		if lock.holders == 0 {
			delete(l.locks, executionID)
		}

		l.mu.Unlock()
	}
}
