//go:build integration

package history_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"granta/internal/history"
	"granta/internal/platform/database"
	"granta/internal/workflow/models"
	id "granta/pkg/domain"
	"granta/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *history.PostgresStore
	ledger   *history.Ledger
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(database.EnsureSchema(context.Background(), s.postgres.DB))
	s.store = history.NewPostgresStore(s.postgres.DB)
	s.ledger = history.NewLedger(s.store)
}

func (s *PostgresLedgerSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "history_entries"))
}

func (s *PostgresLedgerSuite) entry(appID id.ApplicationID, from, to models.Phase) history.Entry {
	return history.Entry{
		ApplicationID: appID,
		ActorID:       id.NewActorID(),
		ActorRole:     id.RoleRegistry,
		FromStatus:    from,
		ToStatus:      to,
		Action:        models.ActionAdvance,
		Timestamp:     time.Now().UTC(),
	}
}

func (s *PostgresLedgerSuite) TestAppendAssignsSequence() {
	ctx := context.Background()
	appID := id.NewApplicationID()

	first, err := s.ledger.Append(ctx, s.entry(appID, models.PhaseIntake, models.PhaseRegistryReview))
	s.Require().NoError(err)
	s.Equal(int64(1), first.Sequence)

	second, err := s.ledger.Append(ctx, s.entry(appID, models.PhaseRegistryReview, models.PhaseClubReview))
	s.Require().NoError(err)
	s.Equal(int64(2), second.Sequence)
}

// Concurrent appends race for the same sequence slot; the ledger's retry
// must leave a gapless, duplicate-free sequence behind.
func (s *PostgresLedgerSuite) TestConcurrentAppendsStayGapless() {
	ctx := context.Background()
	appID := id.NewApplicationID()
	const writers = 10

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// From/to are synthetic here; the gapless property is what is
			// under test, the engine serializes real transitions.
			_, err := s.ledger.Append(ctx, s.entry(appID, models.PhaseIntake, models.PhaseIntake))
			s.NoError(err)
		}()
	}
	wg.Wait()

	entries, err := s.store.ListByApplication(ctx, appID, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, writers)
	for i, e := range entries {
		s.Equal(int64(i+1), e.Sequence)
	}
}

func (s *PostgresLedgerSuite) TestListPagination() {
	ctx := context.Background()
	appID := id.NewApplicationID()
	for i := 0; i < 5; i++ {
		_, err := s.ledger.Append(ctx, s.entry(appID, models.PhaseIntake, models.PhaseIntake))
		s.Require().NoError(err)
	}

	page, next, err := s.ledger.ListByApplication(ctx, appID, 0, 2)
	s.Require().NoError(err)
	s.Len(page, 2)
	s.Equal(int64(2), next)

	page, _, err = s.ledger.ListByApplication(ctx, appID, next, 10)
	s.Require().NoError(err)
	s.Len(page, 3)
}
