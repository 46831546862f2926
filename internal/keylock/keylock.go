// Package keylock serializes work per key inside one process.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

type entry struct {
	mu   sync.Mutex
	refs int
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// Map hands out one mutex per key. Entries are reference counted and removed
// once the last holder unlocks, so the map does not grow with key cardinality.
type Map struct {
	shards [shardCount]shard
}

// New returns an empty lock map.
func New() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i].locks = make(map[string]*entry)
	}
	return m
}

func (m *Map) shardFor(key string) *shard {
	return &m.shards[xxhash.Sum64String(key)%shardCount]
}

// Lock blocks until key is held and returns the matching unlock func.
func (m *Map) Lock(key string) func() {
	s := m.shardFor(key)

	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			s.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(s.locks, key)
			}
			s.mu.Unlock()
		})
	}
}

// Len reports the number of keys currently held or waited on.
func (m *Map) Len() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		total += len(s.locks)
		s.mu.Unlock()
	}
	return total
}
