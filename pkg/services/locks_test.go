package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionLocksSerializeHolders(t *testing.T) {
	locks := newExecutionLocks()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		holders    int
		maxHolders int
	)

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			release := locks.acquire("e1")
			defer release()

			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			mu.Lock()
			holders--
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, maxHolders, "at most one holder per execution")
}

func TestExecutionLocksReleaseDropsIdleEntries(t *testing.T) {
	locks := newExecutionLocks()

	releaseA := locks.acquire("e1")
	releaseB := locks.acquire("e2")

	releaseA()
	releaseB()

	locks.mu.Lock()
	defer locks.mu.Unlock()

	assert.Empty(t, locks.locks, "released locks should not accumulate")
}

func TestExecutionLocksKeepContendedEntries(t *testing.T) {
	locks := newExecutionLocks()

	release := locks.acquire("e1")

	acquired := make(chan func())

	go func() {
		acquired <- locks.acquire("e1")
	}()

	release()

	releaseSecond := <-acquired

	locks.mu.Lock()
	assert.Len(t, locks.locks, 1, "entry survives while a waiter holds it")
	locks.mu.Unlock()

	releaseSecond()

	locks.mu.Lock()
	defer locks.mu.Unlock()

	assert.Empty(t, locks.locks)
}
