package workflow

import (
	"context"
	"sync"

	"granta/internal/workflow/models"
	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
)

// InMemoryStore keeps applications in process memory. Records are cloned on
// the way in and out so callers never share payload maps with the store.
type InMemoryStore struct {
	mu   sync.RWMutex
	apps map[id.ApplicationID]*models.Application
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{apps: make(map[id.ApplicationID]*models.Application)}
}

func (s *InMemoryStore) Create(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apps[app.ID]; exists {
		return sentinel.ErrConflict
	}
	s.apps[app.ID] = app.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, applicationID id.ApplicationID) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if app, ok := s.apps[applicationID]; ok {
		return app.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Update(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.apps[app.ID] = app.Clone()
	return nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, statuses ...models.Phase) ([]*models.Application, error) {
	wanted := make(map[models.Phase]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Application
	for _, app := range s.apps {
		if _, ok := wanted[app.Status]; ok {
			out = append(out, app.Clone())
		}
	}
	return out, nil
}
