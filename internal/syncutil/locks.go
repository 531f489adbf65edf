// Package syncutil provides keyed locks with a bounded footprint.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// KeyedMutex serialises work per key (a gang, a Stripe customer) using a
// fixed pool of shards. Two keys may share a shard; callers must not hold
// one key while taking another.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates a keyed mutex with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock blocks until key is held and returns its release func.
func (m *KeyedMutex) Lock(key string) func() {
	ch := m.shards[shardOf(key)]
	ch <- struct{}{}
	return func() { <-ch }
}

// LockContext is Lock that gives up when ctx ends first.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shards[shardOf(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
