package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocker_SerializesPerKey(t *testing.T) {
	l := NewLocker()

	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, key := range []string{"alice", "bob"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := l.Lock(key)
				defer unlock()
				mu.Lock()
				counts[key]++
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counts["alice"])
	assert.Equal(t, 50, counts["bob"])

	// All entries reclaimed once released.
	l.mu.Lock()
	assert.Empty(t, l.locks)
	l.mu.Unlock()
}

func TestLocker_IndependentKeysDoNotBlock(t *testing.T) {
	l := NewLocker()

	unlockA := l.Lock("alice")
	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("bob")
		unlockB()
		close(done)
	}()
	<-done // would deadlock if keys shared one mutex
	unlockA()
}
