package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Memory
	now   time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemory()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return s.now }
}

func (s *MemoryStoreSuite) TestSeen() {
	seen, err := s.store.Seen(s.ctx, "app:1:req:a")
	s.NoError(err)
	s.False(seen)

	s.NoError(s.store.Remember(s.ctx, "app:1:req:a", time.Hour))

	seen, err = s.store.Seen(s.ctx, "app:1:req:a")
	s.NoError(err)
	s.True(seen)

	seen, err = s.store.Seen(s.ctx, "app:1:req:b")
	s.NoError(err)
	s.False(seen, "keys are independent")
}

func (s *MemoryStoreSuite) TestExpiry() {
	s.NoError(s.store.Remember(s.ctx, "k", time.Hour))

	s.now = s.now.Add(2 * time.Hour)
	seen, err := s.store.Seen(s.ctx, "k")
	s.NoError(err)
	s.False(seen, "expired keys are forgotten")
}
