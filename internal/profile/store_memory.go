package profile

import (
	"context"
	"sync"

	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
)

// InMemoryStore keeps profiles in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[id.SubjectID]*Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[id.SubjectID]*Profile)}
}

func (s *InMemoryStore) Create(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.ID]; exists {
		return sentinel.ErrConflict
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, subjectID id.SubjectID) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[subjectID]; ok {
		return p.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Update(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}
