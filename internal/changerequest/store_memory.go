package changerequest

import (
	"context"
	"sort"
	"sync"

	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
)

// InMemoryStore keeps change requests in process memory. The single-pending
// rule is enforced under the store lock, mirroring the partial unique index
// the postgres store relies on.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.ChangeRequestID]*ChangeRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.ChangeRequestID]*ChangeRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, cr *ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[cr.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, existing := range s.requests {
		if existing.Pending() && existing.SubjectID == cr.SubjectID && existing.Field == cr.Field {
			return sentinel.ErrConflict
		}
	}
	s.requests[cr.ID] = cr.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.ChangeRequestID) (*ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cr, ok := s.requests[requestID]; ok {
		return cr.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Update(_ context.Context, cr *ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[cr.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[cr.ID] = cr.Clone()
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.SubjectID) ([]*ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ChangeRequest
	for _, cr := range s.requests {
		if cr.SubjectID == subjectID {
			out = append(out, cr.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
