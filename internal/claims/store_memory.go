package claims

import (
	"context"
	"sync"
	"time"

	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
)

// InMemoryStore resolves racing claims deterministically under a single
// mutex: the first committer wins, the loser observes ErrHeld.
type InMemoryStore struct {
	mu     sync.RWMutex
	claims map[id.TokenRef]Claim
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{claims: make(map[id.TokenRef]Claim)}
}

func (s *InMemoryStore) Claim(_ context.Context, token id.TokenRef, applicationID id.ApplicationID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.claims[token]; ok && existing.HoldingApplicationID != applicationID {
		return sentinel.ErrHeld
	}
	s.claims[token] = Claim{
		AssetTokenRef:        token,
		HoldingApplicationID: applicationID,
		ClaimedAt:            now,
	}
	return nil
}

func (s *InMemoryStore) Release(_ context.Context, token id.TokenRef, applicationID id.ApplicationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.claims[token]; ok && existing.HoldingApplicationID == applicationID {
		delete(s.claims, token)
	}
	return nil
}

func (s *InMemoryStore) Peek(_ context.Context, token id.TokenRef) (Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if claim, ok := s.claims[token]; ok {
		return claim, nil
	}
	return Claim{}, sentinel.ErrNotFound
}
