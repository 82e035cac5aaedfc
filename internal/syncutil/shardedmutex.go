// Package syncutil provides keyed locking primitives used to serialize
// workflow transitions per entity (an agency, or an agency/client pair)
// without growing memory with the number of keys.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex is a fixed pool of mutexes keyed by string. Memory stays
// bounded no matter how many distinct keys are locked over the process
// lifetime; keys that hash to the same shard occasionally contend with
// each other, which is harmless for short critical sections.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex shard for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}
