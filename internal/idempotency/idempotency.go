// Package idempotency remembers which request keys have already produced a
// committed transition, so retried HTTP requests replay the stored outcome
// instead of running the transition twice.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store is the minimal contract the workflow engine needs: a best-effort
// seen-before check and a TTL-bounded remember.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

type memoryEntry struct {
	expiresAt time.Time
}

// Memory is the in-process implementation used in tests and when no Redis
// URL is configured. Expired keys are pruned lazily on lookup.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory idempotency store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *Memory) Remember(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{expiresAt: m.now().Add(ttl)}
	return nil
}
