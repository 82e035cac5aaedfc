package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutexSerializesSameKey(t *testing.T) {
	var m ShardedMutex

	counter := 0
	var wg sync.WaitGroup
	const n = 200

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("ag_1/cl_1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestShardedMutexUnlockReleases(t *testing.T) {
	var m ShardedMutex

	unlock := m.Lock("ag_2/cl_9")
	unlock()

	// Re-acquiring the same key must not deadlock.
	unlock = m.Lock("ag_2/cl_9")
	unlock()
}
