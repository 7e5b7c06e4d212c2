package promptcache

import (
	"context"
	"sync"
)

// InMemoryStore keeps at most capacity prompts, evicting the oldest insert.
type InMemoryStore struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]byte
	order    []string
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = 128
	}
	return &InMemoryStore{
		capacity: capacity,
		entries:  make(map[string][]byte),
	}
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audio, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), audio...), true, nil
}

func (s *InMemoryStore) Put(_ context.Context, key, _ string, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = append([]byte(nil), audio...)
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
	return nil
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *InMemoryStore) Close() error { return nil }
