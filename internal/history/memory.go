package history

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and local development. It does
// not expire entries.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]Turn)}
}

func (s *MemoryStore) Load(_ context.Context, ownerID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.turns[ownerID]
	out := make([]Turn, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, ownerID string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]Turn, len(turns))
	copy(stored, turns)
	s.turns[ownerID] = stored
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, ownerID)
	return nil
}
