package cache

import (
	"sync"
	"time"
)

// Store is a concurrency-safe map from absolute URI to Resource.
// Concurrent writers on the same key resolve as last writer wins.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Resource
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]*Resource)}
}

// Get returns the resource stored under key.
func (s *Store) Get(key string) (*Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.items[key]
	return res, ok
}

// Put stores res under its URI, replacing any previous entry.
func (s *Store) Put(res *Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[res.URI] = res
}

// Delete removes the entry for key.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// DeleteIf removes the entry for key only if it is still res. A newer
// resource stored concurrently under the same key is left alone.
func (s *Store) DeleteIf(key string, res *Resource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[key] != res {
		return false
	}
	delete(s.items, key)
	return true
}

// Sweep removes all entries expired at now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, res := range s.items {
		if res.Expired(now) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
