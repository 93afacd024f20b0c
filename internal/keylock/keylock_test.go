package keylock_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"RecallChat/internal/keylock"
)

func TestLock_ReleasesEntry(t *testing.T) {
	s := keylock.New()

	unlock := s.Lock("a")
	assert.Equal(t, 1, s.Len())
	unlock()
	assert.Equal(t, 0, s.Len())
}

func TestLock_SerialisesSameKey(t *testing.T) {
	s := keylock.New()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("k")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 0, s.Len())
}

func TestLock_DifferentKeysDoNotBlock(t *testing.T) {
	s := keylock.New()

	unlockA := s.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := s.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	assert.Equal(t, 1, s.Len())
}
