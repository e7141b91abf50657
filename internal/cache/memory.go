package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is the in-process cache backend: an expirable LRU with a
// fixed TTL. The entry bound exists only to keep memory finite; the TTL is
// the operative eviction policy.
type MemoryStore struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.lru.Add(key, value)
	return nil
}

// Len reports live entries, for tests and diagnostics.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
