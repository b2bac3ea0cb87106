//go:build integration

package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"granta/internal/claims"
	"granta/internal/history"
	"granta/internal/platform/database"
	"granta/internal/workflow"
	"granta/internal/workflow/models"
	"granta/internal/workflow/pipeline"
	"granta/internal/workflow/service"
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/testutil/containers"
)

// PostgresEngineSuite runs the full engine against real PostgreSQL through
// SQLTx, so the all-or-nothing guarantee comes from transaction rollback
// rather than the memory-store compensation path.
type PostgresEngineSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	engine   *service.Engine
	ledger   *history.Ledger
	registry *claims.Registry
	cfg      pipeline.Config
	actors   map[id.Role]service.Actor
}

func TestPostgresEngineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresEngineSuite))
}

func (s *PostgresEngineSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(database.EnsureSchema(context.Background(), s.postgres.DB))

	s.cfg = pipeline.Default()
	s.Require().NoError(s.cfg.Validate())

	s.ledger = history.NewLedger(history.NewPostgresStore(s.postgres.DB))
	s.registry = claims.NewRegistry(claims.NewPostgresStore(s.postgres.DB))
	s.engine = service.New(
		workflow.NewPostgresStore(s.postgres.DB),
		s.ledger,
		s.registry,
		s.cfg,
		service.NewSQLTx(s.postgres.DB),
	)

	s.actors = make(map[id.Role]service.Actor)
	for _, role := range []id.Role{
		id.RoleOperator, id.RoleRegistry, id.RoleClub, id.RolePolice,
		id.RoleProvince, id.RoleIntelligence, id.RoleCentralRegistry,
		id.RoleAuthorizer,
	} {
		s.actors[role] = service.Actor{ID: id.NewActorID(), Role: role}
	}
}

func (s *PostgresEngineSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(),
		"applications", "history_entries", "uniqueness_claims"))
}

func (s *PostgresEngineSuite) create(token id.TokenRef) *models.Application {
	app, err := s.engine.Create(context.Background(), s.actors[id.RoleOperator],
		id.NewSubjectID(), token, models.Payload{"category": "standard"})
	s.Require().NoError(err)
	return app
}

// advanceTo walks the pipeline with the owning role of each phase until the
// application sits at target.
func (s *PostgresEngineSuite) advanceTo(app *models.Application, target models.Phase) *models.Application {
	ctx := context.Background()
	for app.Status != target {
		role, ok := s.cfg.RoleFor(app.Status)
		s.Require().True(ok, "phase %s has no owning role", app.Status)
		next, err := s.engine.Advance(ctx, app.ID, s.actors[role], "", nil, "")
		s.Require().NoError(err)
		app = next
	}
	return app
}

func (s *PostgresEngineSuite) TestFullPipelineCommitsAtomically() {
	ctx := context.Background()
	token := id.TokenRef("TRX-77001")

	app := s.create(token)
	app = s.advanceTo(app, models.PhaseCompleted)

	// Claim, status, and ledger all landed in one transaction.
	claim, err := s.registry.Peek(ctx, token)
	s.Require().NoError(err)
	s.Equal(app.ID, claim.HoldingApplicationID)

	status, err := s.ledger.ReplayStatus(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(string(models.PhaseCompleted), status)
}

// A lost uniqueness claim at the final advance must roll the transaction
// back: status and history stay exactly as they were.
func (s *PostgresEngineSuite) TestTokenConflictRollsBackTransaction() {
	ctx := context.Background()
	token := id.TokenRef("TRX-77002")

	winner := s.create(token)
	s.advanceTo(winner, models.PhaseCompleted)

	loser := s.create(token)
	loser = s.advanceTo(loser, models.PhaseRegistryFinal)
	entriesBefore, _, err := s.ledger.ListByApplication(ctx, loser.ID, 0, 0)
	s.Require().NoError(err)

	role, _ := s.cfg.RoleFor(models.PhaseRegistryFinal)
	_, err = s.engine.Advance(ctx, loser.ID, s.actors[role], "", nil, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTokenConflict))

	reloaded, err := s.engine.Get(ctx, loser.ID)
	s.Require().NoError(err)
	s.Equal(models.PhaseRegistryFinal, reloaded.Status)

	entriesAfter, _, err := s.ledger.ListByApplication(ctx, loser.ID, 0, 0)
	s.Require().NoError(err)
	s.Len(entriesAfter, len(entriesBefore))

	claim, err := s.registry.Peek(ctx, token)
	s.Require().NoError(err)
	s.NotEqual(loser.ID, claim.HoldingApplicationID)
}

func (s *PostgresEngineSuite) TestRejectReleasesClaimInSameTransaction() {
	ctx := context.Background()
	token := id.TokenRef("TRX-77003")

	app := s.create(token)
	app = s.advanceTo(app, models.PhaseCompleted)

	// Completed is terminal; reset is the administrative path that releases
	// the claim while logging the transition.
	reset, err := s.engine.Reset(ctx, app.ID, s.actors[id.RoleAuthorizer], "issued in error", "")
	s.Require().NoError(err)
	s.Equal(models.PhaseIntake, reset.Status)

	_, err = s.registry.Peek(ctx, token)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	status, err := s.ledger.ReplayStatus(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(string(models.PhaseIntake), status)
}
