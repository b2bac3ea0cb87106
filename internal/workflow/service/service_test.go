package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"granta/internal/claims"
	"granta/internal/history"
	"granta/internal/idempotency"
	"granta/internal/workflow"
	"granta/internal/workflow/models"
	"granta/internal/workflow/pipeline"
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/platform/audit"
	"granta/pkg/requestcontext"
)

// recordingAudit captures emitted events synchronously for assertions.
type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Emit(_ context.Context, event audit.Event) {
	r.events = append(r.events, event)
}

func (r *recordingAudit) actions() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

type PhaseEngineSuite struct {
	suite.Suite
	ctx       context.Context
	apps      *workflow.InMemoryStore
	histStore *history.InMemoryStore
	ledger    *history.Ledger
	claimsReg *claims.Registry
	cfg       pipeline.Config
	audit     *recordingAudit
	engine    *Engine

	actors map[id.Role]Actor
}

func TestPhaseEngineSuite(t *testing.T) {
	suite.Run(t, new(PhaseEngineSuite))
}

func (s *PhaseEngineSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.apps = workflow.NewInMemoryStore()
	s.histStore = history.NewInMemoryStore()
	s.ledger = history.NewLedger(s.histStore)
	s.claimsReg = claims.NewRegistry(claims.NewInMemoryStore())
	s.cfg = pipeline.Default()
	s.audit = &recordingAudit{}
	s.engine = New(s.apps, s.ledger, s.claimsReg, s.cfg, NewShardedTx(),
		WithAuditRecorder(s.audit),
	)

	s.actors = make(map[id.Role]Actor)
	for _, role := range []id.Role{
		id.RoleOperator, id.RoleRegistry, id.RoleClub, id.RolePolice,
		id.RoleProvince, id.RoleIntelligence, id.RoleCentralRegistry, id.RoleAuthorizer,
	} {
		s.actors[role] = Actor{ID: id.NewActorID(), Role: role}
	}
}

func (s *PhaseEngineSuite) create(token id.TokenRef) *models.Application {
	app, err := s.engine.Create(s.ctx, s.actors[id.RoleOperator], id.NewSubjectID(), token, models.Payload{"weapon_type": "rifle"})
	s.Require().NoError(err)
	return app
}

// advanceTo walks an application forward until it reaches target, using the
// owning role of each phase along the way.
func (s *PhaseEngineSuite) advanceTo(appID id.ApplicationID, target models.Phase) *models.Application {
	app, err := s.engine.Get(s.ctx, appID)
	s.Require().NoError(err)
	for app.Status != target {
		role, ok := s.cfg.RoleFor(app.Status)
		s.Require().True(ok, "phase %s unexpectedly terminal", app.Status)
		app, err = s.engine.Advance(s.ctx, appID, s.actors[role], "", nil, "")
		s.Require().NoError(err)
	}
	return app
}

func (s *PhaseEngineSuite) historyCount(appID id.ApplicationID) int {
	entries, _, err := s.ledger.ListByApplication(s.ctx, appID, 0, 0)
	s.Require().NoError(err)
	return len(entries)
}

func (s *PhaseEngineSuite) TestCreate() {
	app := s.create("token-1")
	s.Equal(models.PhaseIntake, app.Status)
	s.Equal("rifle", app.Payload["weapon_type"])
	s.Equal(0, s.historyCount(app.ID), "creation writes no history entry")
	s.Contains(s.audit.actions(), string(audit.EventApplicationCreated))
}

func (s *PhaseEngineSuite) TestGet() {
	app := s.create("")
	loaded, err := s.engine.Get(s.ctx, app.ID)
	s.NoError(err)
	s.Equal(app.ID, loaded.ID)

	_, err = s.engine.Get(s.ctx, id.NewApplicationID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *PhaseEngineSuite) TestRoleGate() {
	app := s.create("")

	s.Run("wrong role is forbidden and leaves no trace", func() {
		_, err := s.engine.Advance(s.ctx, app.ID, s.actors[id.RolePolice], "", nil, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		current, err := s.engine.Get(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(models.PhaseIntake, current.Status)
		s.Equal(0, s.historyCount(app.ID))
		s.Contains(s.audit.actions(), string(audit.EventTransitionForbidden))
	})

	s.Run("every phase admits only its owning role", func() {
		walked := s.create("")
		for _, phase := range s.cfg.Order[:len(s.cfg.Order)-1] {
			owner, ok := s.cfg.RoleFor(phase)
			s.Require().True(ok)
			for role, actor := range s.actors {
				if role == owner {
					continue
				}
				_, err := s.engine.Advance(s.ctx, walked.ID, actor, "", nil, "")
				s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "phase %s accepted role %s", phase, role)
			}
			var err error
			walked, err = s.engine.Advance(s.ctx, walked.ID, s.actors[owner], "", nil, "")
			s.Require().NoError(err)
		}
		s.Equal(models.PhaseCompleted, walked.Status)
	})
}

func (s *PhaseEngineSuite) TestAdvanceFullPipeline() {
	app := s.create("token-42")
	final := s.advanceTo(app.ID, models.PhaseCompleted)

	s.Equal(models.PhaseCompleted, final.Status)
	s.Equal(len(s.cfg.Order)-1, s.historyCount(app.ID))

	claim, err := s.claimsReg.Peek(s.ctx, "token-42")
	s.Require().NoError(err)
	s.Equal(app.ID, claim.HoldingApplicationID)

	status, err := s.ledger.ReplayStatus(s.ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(string(models.PhaseCompleted), status, "replayed ledger must reproduce stored status")
}

func (s *PhaseEngineSuite) TestAdvanceMergesPayload() {
	app := s.create("")
	advanced, err := s.engine.Advance(s.ctx, app.ID, s.actors[id.RoleOperator], "checked", models.Payload{"serial": "A-77"}, "")
	s.Require().NoError(err)
	s.Equal("A-77", advanced.Payload["serial"])
	s.Equal("rifle", advanced.Payload["weapon_type"], "prior entries survive")

	s.Run("reserved keys fail the whole advance", func() {
		_, err := s.engine.Advance(s.ctx, advanced.ID, s.actors[id.RoleRegistry], "", models.Payload{"_flagged": true}, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		current, err := s.engine.Get(s.ctx, advanced.ID)
		s.Require().NoError(err)
		s.Equal(models.PhaseRegistryReview, current.Status)
	})
}

func (s *PhaseEngineSuite) TestTokenConflict() {
	first := s.create("token-dup")
	s.advanceTo(first.ID, models.PhaseCompleted)

	second := s.create("token-dup")
	s.advanceTo(second.ID, models.PhaseRegistryFinal)

	before := s.historyCount(second.ID)
	_, err := s.engine.Advance(s.ctx, second.ID, s.actors[id.RoleCentralRegistry], "", nil, "")
	s.True(dErrors.HasCode(err, dErrors.CodeTokenConflict))

	current, err := s.engine.Get(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(models.PhaseRegistryFinal, current.Status, "failed advance leaves status unchanged")
	s.Equal(before, s.historyCount(second.ID), "failed advance writes no history")

	s.Run("retry succeeds after the holder resets", func() {
		_, err := s.engine.Reset(s.ctx, first.ID, s.actors[id.RoleAuthorizer], "duplicate", "")
		s.Require().NoError(err)

		won, err := s.engine.Advance(s.ctx, second.ID, s.actors[id.RoleCentralRegistry], "", nil, "")
		s.Require().NoError(err)
		s.Equal(models.PhaseCompleted, won.Status)

		claim, err := s.claimsReg.Peek(s.ctx, "token-dup")
		s.Require().NoError(err)
		s.Equal(second.ID, claim.HoldingApplicationID)
	})
}

func (s *PhaseEngineSuite) TestReject() {
	s.Run("any active phase can reject", func() {
		app := s.create("")
		s.advanceTo(app.ID, models.PhaseClubReview)

		rejected, err := s.engine.Reject(s.ctx, app.ID, s.actors[id.RoleClub], "insufficient documents", "")
		s.Require().NoError(err)
		s.Equal(models.PhaseRejected, rejected.Status)
	})

	s.Run("terminal states absorb all actions", func() {
		app := s.create("")
		_, err := s.engine.Reject(s.ctx, app.ID, s.actors[id.RoleOperator], "withdrawn", "")
		s.Require().NoError(err)

		_, err = s.engine.Advance(s.ctx, app.ID, s.actors[id.RoleOperator], "", nil, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		_, err = s.engine.Reject(s.ctx, app.ID, s.actors[id.RoleOperator], "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("rejection is gated like any transition", func() {
		app := s.create("")
		_, err := s.engine.Reject(s.ctx, app.ID, s.actors[id.RolePolice], "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *PhaseEngineSuite) TestFlagUnflag() {
	app := s.create("")
	s.advanceTo(app.ID, models.PhasePoliceReview)

	s.Run("any role may flag without touching status", func() {
		flagged, err := s.engine.Flag(s.ctx, app.ID, s.actors[id.RoleIntelligence], "suspicious serial")
		s.Require().NoError(err)
		s.True(flagged.Flagged())
		s.Equal(models.PhasePoliceReview, flagged.Status)
	})

	s.Run("flag and unflag are both ledgered with from==to", func() {
		_, err := s.engine.Unflag(s.ctx, app.ID, s.actors[id.RolePolice], "cleared")
		s.Require().NoError(err)

		entries, _, err := s.ledger.ListByApplication(s.ctx, app.ID, 0, 0)
		s.Require().NoError(err)
		last := entries[len(entries)-1]
		s.Equal(models.ActionUnflag, last.Action)
		s.Equal(last.FromStatus, last.ToStatus)

		status, err := s.ledger.ReplayStatus(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(string(models.PhasePoliceReview), status, "annotations keep the replay fold total")
	})
}

func (s *PhaseEngineSuite) TestForward() {
	s.Run("routes to a configured branch", func() {
		app := s.create("")
		s.advanceTo(app.ID, models.PhaseRegistryReview)

		forwarded, err := s.engine.Forward(s.ctx, app.ID, s.actors[id.RoleRegistry], "club_north", "nearest club", "")
		s.Require().NoError(err)
		s.Equal(models.PhaseClubReview, forwarded.Status)
		s.Equal("club_north", forwarded.Payload[models.PayloadKeyBranch])
	})

	s.Run("unknown branch target fails", func() {
		app := s.create("")
		s.advanceTo(app.ID, models.PhaseRegistryReview)

		_, err := s.engine.Forward(s.ctx, app.ID, s.actors[id.RoleRegistry], "club_moon", "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("non-branching phases refuse forward", func() {
		app := s.create("")
		_, err := s.engine.Forward(s.ctx, app.ID, s.actors[id.RoleOperator], "club_north", "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *PhaseEngineSuite) TestRequestInfo() {
	app := s.create("")
	s.advanceTo(app.ID, models.PhaseProvinceReview)

	annotated, err := s.engine.RequestInfo(s.ctx, app.ID, s.actors[id.RoleProvince], "need residency proof")
	s.Require().NoError(err)
	s.Equal(models.PhaseProvinceReview, annotated.Status)

	requests, _ := annotated.Payload[models.PayloadKeyInfoRequests].([]models.InfoRequest)
	s.Require().Len(requests, 1)
	s.Equal("need residency proof", requests[0].Note)

	s.Run("does not block the owning role from advancing", func() {
		_, err := s.engine.Advance(s.ctx, app.ID, s.actors[id.RoleProvince], "", nil, "")
		s.NoError(err)
	})
}

func (s *PhaseEngineSuite) TestReset() {
	s.Run("authorizer only", func() {
		app := s.create("")
		s.advanceTo(app.ID, models.PhaseClubReview)
		_, err := s.engine.Reset(s.ctx, app.ID, s.actors[id.RoleClub], "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("already at intake", func() {
		app := s.create("")
		_, err := s.engine.Reset(s.ctx, app.ID, s.actors[id.RoleAuthorizer], "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("releases the claim atomically with the status change", func() {
		app := s.create("token-reset")
		s.advanceTo(app.ID, models.PhaseCompleted)

		reset, err := s.engine.Reset(s.ctx, app.ID, s.actors[id.RoleAuthorizer], "issued in error", "")
		s.Require().NoError(err)
		s.Equal(models.PhaseIntake, reset.Status)

		_, err = s.claimsReg.Peek(s.ctx, "token-reset")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		status, err := s.ledger.ReplayStatus(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(string(models.PhaseIntake), status)
	})
}

func (s *PhaseEngineSuite) TestQueue() {
	a := s.create("")
	b := s.create("")
	s.advanceTo(b.ID, models.PhaseRegistryReview)

	queue, err := s.engine.Queue(s.ctx, id.RoleOperator)
	s.Require().NoError(err)
	s.Require().Len(queue, 1)
	s.Equal(a.ID, queue[0].ID)

	queue, err = s.engine.Queue(s.ctx, id.RoleRegistry)
	s.Require().NoError(err)
	s.Require().Len(queue, 1)
	s.Equal(b.ID, queue[0].ID)

	_, err = s.engine.Queue(s.ctx, id.RoleAuthorizer)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *PhaseEngineSuite) TestIdempotentReplay() {
	store := idempotency.NewMemory()
	engine := New(s.apps, s.ledger, s.claimsReg, s.cfg, NewShardedTx(),
		WithIdempotencyStore(store),
	)

	app := s.create("")
	first, err := engine.Advance(s.ctx, app.ID, s.actors[id.RoleOperator], "", nil, "req-1")
	s.Require().NoError(err)
	s.Equal(models.PhaseRegistryReview, first.Status)

	replayed, err := engine.Advance(s.ctx, app.ID, s.actors[id.RoleOperator], "", nil, "req-1")
	s.Require().NoError(err)
	s.Equal(models.PhaseRegistryReview, replayed.Status, "replay returns current state, not a double advance")
	s.Equal(1, s.historyCount(app.ID))

	s.Run("a fresh key advances again", func() {
		next, err := engine.Advance(s.ctx, app.ID, s.actors[id.RoleRegistry], "", nil, "req-2")
		s.Require().NoError(err)
		s.Equal(models.PhaseClubReview, next.Status)
		s.Equal(2, s.historyCount(app.ID))
	})
}

// failingLedger simulates a history-store outage after the status write has
// begun, exercising the compensation path.
type failingLedger struct {
	err error
}

func (f *failingLedger) Append(context.Context, history.Entry) (history.Entry, error) {
	return history.Entry{}, f.err
}

// refusingClaims fails every claim attempt.
type refusingClaims struct{}

func (refusingClaims) Claim(context.Context, id.TokenRef, id.ApplicationID) error {
	return dErrors.New(dErrors.CodeTokenConflict, "asset token already claimed by another application")
}

func (refusingClaims) Release(context.Context, id.TokenRef, id.ApplicationID) error {
	return nil
}

func (s *PhaseEngineSuite) TestAtomicityUnderFaultInjection() {
	s.Run("history failure rolls the status write back", func() {
		engine := New(s.apps, &failingLedger{err: errors.New("disk gone")}, s.claimsReg, s.cfg, NewShardedTx())
		app := s.create("")

		_, err := engine.Advance(s.ctx, app.ID, s.actors[id.RoleOperator], "", nil, "")
		s.Error(err)

		current, err := s.engine.Get(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(models.PhaseIntake, current.Status)
		s.Equal(0, s.historyCount(app.ID))
	})

	s.Run("history failure at completion also releases the fresh claim", func() {
		app := s.create("token-fault")
		s.advanceTo(app.ID, models.PhaseRegistryFinal)

		engine := New(s.apps, &failingLedger{err: errors.New("disk gone")}, s.claimsReg, s.cfg, NewShardedTx())
		_, err := engine.Advance(s.ctx, app.ID, s.actors[id.RoleCentralRegistry], "", nil, "")
		s.Error(err)

		current, err := s.engine.Get(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(models.PhaseRegistryFinal, current.Status)
		_, err = s.claimsReg.Peek(s.ctx, "token-fault")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "compensation must release the claim")
	})

	s.Run("claim failure prevents status write and history entry", func() {
		engine := New(s.apps, s.ledger, refusingClaims{}, s.cfg, NewShardedTx())
		app := s.create("token-refused")
		s.advanceTo(app.ID, models.PhaseRegistryFinal)
		before := s.historyCount(app.ID)

		_, err := engine.Advance(s.ctx, app.ID, s.actors[id.RoleCentralRegistry], "", nil, "")
		s.True(dErrors.HasCode(err, dErrors.CodeTokenConflict))

		current, err := s.engine.Get(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(models.PhaseRegistryFinal, current.Status)
		s.Equal(before, s.historyCount(app.ID))
	})
}
