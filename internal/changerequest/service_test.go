package changerequest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/platform/sentinel"
)

// fakeFields is an in-memory protected-field owner.
type fakeFields struct {
	values map[id.SubjectID]map[string]string
}

func newFakeFields() *fakeFields {
	return &fakeFields{values: make(map[id.SubjectID]map[string]string)}
}

func (f *fakeFields) set(subjectID id.SubjectID, field, value string) {
	if f.values[subjectID] == nil {
		f.values[subjectID] = make(map[string]string)
	}
	f.values[subjectID][field] = value
}

func (f *fakeFields) CurrentValue(_ context.Context, subjectID id.SubjectID, field string) (string, error) {
	fields, ok := f.values[subjectID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return fields[field], nil
}

func (f *fakeFields) ApplyValue(_ context.Context, subjectID id.SubjectID, field, value string) error {
	if _, ok := f.values[subjectID]; !ok {
		return sentinel.ErrNotFound
	}
	f.values[subjectID][field] = value
	return nil
}

type ChangeRequestSuite struct {
	suite.Suite
	ctx        context.Context
	fields     *fakeFields
	service    *Service
	subject    id.SubjectID
	requester  Actor
	authorizer Actor
}

func TestChangeRequestSuite(t *testing.T) {
	suite.Run(t, new(ChangeRequestSuite))
}

func (s *ChangeRequestSuite) SetupTest() {
	s.ctx = context.Background()
	s.fields = newFakeFields()
	s.service = New(NewInMemoryStore(), s.fields)
	s.subject = id.NewSubjectID()
	s.requester = Actor{ID: id.NewActorID(), Role: id.RoleRegistry}
	s.authorizer = Actor{ID: id.NewActorID(), Role: id.RoleAuthorizer}

	s.fields.set(s.subject, "identity_number", "123")
	s.fields.set(s.subject, "full_name", "Ada Quinn")
}

func (s *ChangeRequestSuite) TestPropose() {
	s.Run("captures old value at proposal time", func() {
		cr, err := s.service.Propose(s.ctx, s.subject, "identity_number", "999", s.requester)
		s.Require().NoError(err)
		s.Require().NotNil(cr)
		s.Equal(StatusPending, cr.Status)
		s.Equal("123", cr.OldValue)
		s.Equal("999", cr.NewValue)
		s.Equal(s.requester.ID, cr.RequestedBy)

		current, err := s.fields.CurrentValue(s.ctx, s.subject, "identity_number")
		s.Require().NoError(err)
		s.Equal("123", current, "proposal never writes the field")
	})

	s.Run("proposing the current value is a no-op", func() {
		cr, err := s.service.Propose(s.ctx, s.subject, "full_name", "Ada Quinn", s.requester)
		s.NoError(err)
		s.Nil(cr)

		pending, err := s.service.ListPending(s.ctx, s.subject)
		s.Require().NoError(err)
		for _, p := range pending {
			s.NotEqual("full_name", p.Field)
		}
	})

	s.Run("second pending request for the same field conflicts", func() {
		_, err := s.service.Propose(s.ctx, s.subject, "identity_number", "888", s.requester)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("a different field may still be proposed", func() {
		cr, err := s.service.Propose(s.ctx, s.subject, "full_name", "Ada Byron", s.requester)
		s.NoError(err)
		s.NotNil(cr)
	})

	s.Run("unknown subject", func() {
		_, err := s.service.Propose(s.ctx, id.NewSubjectID(), "identity_number", "1", s.requester)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ChangeRequestSuite) TestResolveApprove() {
	cr, err := s.service.Propose(s.ctx, s.subject, "identity_number", "999", s.requester)
	s.Require().NoError(err)

	resolved, err := s.service.Resolve(s.ctx, cr.ID, DecisionApprove, "checked against registry", s.authorizer)
	s.Require().NoError(err)
	s.Equal(StatusApproved, resolved.Status)
	s.Equal(s.authorizer.ID, resolved.ResolvedBy)
	s.False(resolved.ResolvedAt.IsZero())

	current, err := s.fields.CurrentValue(s.ctx, s.subject, "identity_number")
	s.Require().NoError(err)
	s.Equal("999", current, "approval applies the new value")

	s.Run("a follow-up request for the same field is allowed", func() {
		next, err := s.service.Propose(s.ctx, s.subject, "identity_number", "1000", s.requester)
		s.NoError(err)
		s.NotNil(next)
		s.Equal("999", next.OldValue)
	})
}

func (s *ChangeRequestSuite) TestResolveReject() {
	cr, err := s.service.Propose(s.ctx, s.subject, "identity_number", "999", s.requester)
	s.Require().NoError(err)

	resolved, err := s.service.Resolve(s.ctx, cr.ID, DecisionReject, "mismatch with documents", s.authorizer)
	s.Require().NoError(err)
	s.Equal(StatusRejected, resolved.Status)

	current, err := s.fields.CurrentValue(s.ctx, s.subject, "identity_number")
	s.Require().NoError(err)
	s.Equal("123", current, "rejection leaves the field untouched")

	s.Run("resolving twice conflicts", func() {
		_, err := s.service.Resolve(s.ctx, cr.ID, DecisionApprove, "", s.authorizer)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ChangeRequestSuite) TestStaleApproval() {
	cr, err := s.service.Propose(s.ctx, s.subject, "identity_number", "999", s.requester)
	s.Require().NoError(err)

	// An administrative hot-patch lands between proposal and resolution.
	s.fields.set(s.subject, "identity_number", "456")

	_, err = s.service.Resolve(s.ctx, cr.ID, DecisionApprove, "", s.authorizer)
	s.True(dErrors.HasCode(err, dErrors.CodeStaleChangeRequest))

	s.Run("the request stays pending for re-evaluation", func() {
		loaded, err := s.service.Get(s.ctx, cr.ID)
		s.Require().NoError(err)
		s.Equal(StatusPending, loaded.Status)
	})

	s.Run("the stale request can still be rejected explicitly", func() {
		resolved, err := s.service.Resolve(s.ctx, cr.ID, DecisionReject, "value drifted", s.authorizer)
		s.NoError(err)
		s.Equal(StatusRejected, resolved.Status)
	})
}

func (s *ChangeRequestSuite) TestResolveGate() {
	cr, err := s.service.Propose(s.ctx, s.subject, "identity_number", "999", s.requester)
	s.Require().NoError(err)

	s.Run("only authorizers resolve", func() {
		_, err := s.service.Resolve(s.ctx, cr.ID, DecisionApprove, "", s.requester)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown request", func() {
		_, err := s.service.Resolve(s.ctx, id.NewChangeRequestID(), DecisionApprove, "", s.authorizer)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ChangeRequestSuite) TestParseDecision() {
	d, err := ParseDecision("approve")
	s.NoError(err)
	s.Equal(DecisionApprove, d)

	_, err = ParseDecision("maybe")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ChangeRequestSuite) TestListBySubject() {
	_, err := s.service.Propose(s.ctx, s.subject, "identity_number", "999", s.requester)
	s.Require().NoError(err)
	cr2, err := s.service.Propose(s.ctx, s.subject, "full_name", "Ada Byron", s.requester)
	s.Require().NoError(err)
	_, err = s.service.Resolve(s.ctx, cr2.ID, DecisionReject, "", s.authorizer)
	s.Require().NoError(err)

	all, err := s.service.ListBySubject(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Len(all, 2)

	pending, err := s.service.ListPending(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("identity_number", pending[0].Field)
}
