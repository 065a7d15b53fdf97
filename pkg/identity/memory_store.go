package identity

import (
	"context"
	"sync"
)

// MemoryStore keeps the identity in process memory.
type MemoryStore struct {
	mu sync.Mutex
	id Identity

	// FailSave makes Save and Clear return the error, for tests.
	FailSave error
}

func NewMemoryStore(initial Identity) *MemoryStore {
	return &MemoryStore{id: initial}
}

func (s *MemoryStore) Load(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *MemoryStore) Save(ctx context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.id = id
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.id = Identity{}
	return nil
}
