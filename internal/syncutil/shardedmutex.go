// Package syncutil provides keyed locks for serializing work on a single
// escrow or wallet account without holding a map of mutexes per key.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes keyed by string, used where a
// hot path needs per-key exclusion (one wallet account, one escrow) but
// the key space is unbounded. Memory stays constant; two keys landing in
// the same shard occasionally wait on each other, which is harmless.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
