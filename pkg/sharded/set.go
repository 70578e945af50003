// Package sharded provides a string set split across independently locked
// shards, for caches hit by many goroutines at once.
package sharded

import (
	"hash/fnv"
	"sync"
)

// DefaultShards is the shard count used by NewSet for values <= 0.
const DefaultShards = 64

type setShard struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// Set is a concurrency-safe set of strings.
type Set struct {
	shards []*setShard
	mask   uint32
}

// NewSet creates a set with numShards shards. numShards must be a power of two.
func NewSet(numShards int) *Set {
	if numShards <= 0 {
		numShards = DefaultShards
	}
	if numShards&(numShards-1) != 0 {
		panic("sharded: number of shards must be a power of 2")
	}
	s := &Set{shards: make([]*setShard, numShards), mask: uint32(numShards - 1)}
	for i := range s.shards {
		s.shards[i] = &setShard{items: make(map[string]struct{})}
	}
	return s
}

// shard picks the shard for key using FNV-1a.
func (s *Set) shard(key string) *setShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()&s.mask]
}

// Store adds key.
func (s *Set) Store(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	sh.items[key] = struct{}{}
	sh.mu.Unlock()
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	sh := s.shard(key)
	sh.mu.RLock()
	_, ok := sh.items[key]
	sh.mu.RUnlock()
	return ok
}

// LoadOrStore adds key and reports whether it was already present.
func (s *Set) LoadOrStore(key string) (loaded bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, loaded = sh.items[key]; !loaded {
		sh.items[key] = struct{}{}
	}
	return loaded
}

// Delete removes key.
func (s *Set) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// Count returns the number of keys.
func (s *Set) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Clear removes every key.
func (s *Set) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		clear(sh.items)
		sh.mu.Unlock()
	}
}
