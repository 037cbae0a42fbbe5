package lead

import (
	"context"
	"sync"
)

// MemoryStore keeps leads in process memory. Used when Supabase is not
// configured and throughout the tests.
type MemoryStore struct {
	mu    sync.RWMutex
	leads map[string]*Lead
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leads: make(map[string]*Lead)}
}

// Get returns a copy of the lead for the phone number.
func (s *MemoryStore) Get(_ context.Context, phone string) (*Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[phone]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// Upsert stores a copy keyed by phone number.
func (s *MemoryStore) Upsert(_ context.Context, l *Lead) error {
	cp := *l
	s.mu.Lock()
	s.leads[l.Phone] = &cp
	s.mu.Unlock()
	return nil
}
