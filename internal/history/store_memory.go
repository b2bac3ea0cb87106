package history

import (
	"context"
	"sync"

	id "granta/pkg/domain"
)

// InMemoryStore keeps the ledger in process memory. Sequence assignment
// happens under the store lock, so it never produces a sequence race; the
// conflict path exists only in stores that assign sequences optimistically.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.ApplicationID][]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.ApplicationID][]Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.entries[entry.ApplicationID]
	entry.Sequence = int64(len(existing)) + 1
	s.entries[entry.ApplicationID] = append(existing, entry)
	return entry, nil
}

func (s *InMemoryStore) ListByApplication(_ context.Context, applicationID id.ApplicationID, afterSeq int64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries[applicationID] {
		if e.Sequence <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
