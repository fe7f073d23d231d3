package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is the context-aware variant of ShardedMutex. Each
// shard is a one-slot channel, so a caller waiting for an escrow that is
// mid-transition can give up when its request context is cancelled
// instead of parking forever. The zero value is ready to use.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex returns an initialized mutex. Embedding the zero
// value works too; init happens on first lock either way.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // start unlocked
		}
	})
}

// LockContext acquires the shard for key or returns ctx.Err() if the
// context ends first. On success the caller must invoke the returned
// unlock function.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardIndex(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
