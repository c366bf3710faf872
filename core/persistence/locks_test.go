package persistence

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassLocksSerializeSameClass(t *testing.T) {
	locks := newClassLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("Post")
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, locks.held("Post"))
}

func TestClassLocksIndependentClasses(t *testing.T) {
	locks := newClassLocks()
	unlockA := locks.Lock("A")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("B")
		unlock()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, locks.held("A"))
	unlockA()
	assert.Zero(t, locks.held("A"))
}
