package syncutil

import "context"

// ContextShardedMutex is the cancellable variant of ShardedMutex. Each shard
// is a one-slot channel, so acquisition can select against the caller's
// context. Used where the critical section spans remote billing calls and
// an abandoned request must not queue behind one in flight.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
}

// NewContextShardedMutex returns a mutex pool with every shard unlocked.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// LockContext acquires the shard for key, or gives up when ctx is done.
// On success the returned unlock function must be called exactly once; on
// cancellation it returns nil and the context error, and the lock is not held.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIndex(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
