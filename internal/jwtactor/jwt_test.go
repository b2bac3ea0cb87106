package jwtactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
)

type JWTActorSuite struct {
	suite.Suite
	service *Service
}

func TestJWTActorSuite(t *testing.T) {
	suite.Run(t, new(JWTActorSuite))
}

func (s *JWTActorSuite) SetupTest() {
	s.service = New("test-signing-key", "granta-test")
}

func (s *JWTActorSuite) TestRoundTrip() {
	actorID := id.NewActorID()
	token, err := s.service.GenerateActorToken(actorID, id.RolePolice, time.Hour)
	s.Require().NoError(err)

	parsedID, role, err := s.service.ValidateToken(token)
	s.Require().NoError(err)
	s.Equal(actorID, parsedID)
	s.Equal(id.RolePolice, role)
}

func (s *JWTActorSuite) TestValidateToken() {
	s.Run("rejects garbage", func() {
		_, _, err := s.service.ValidateToken("not-a-token")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects a token signed with a different key", func() {
		other := New("different-key", "granta-test")
		token, err := other.GenerateActorToken(id.NewActorID(), id.RoleClub, time.Hour)
		s.Require().NoError(err)

		_, _, err = s.service.ValidateToken(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects an expired token", func() {
		token, err := s.service.GenerateActorToken(id.NewActorID(), id.RoleClub, -time.Minute)
		s.Require().NoError(err)

		_, _, err = s.service.ValidateToken(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects an unknown role claim", func() {
		token, err := s.service.GenerateActorToken(id.NewActorID(), "warlord", time.Hour)
		s.Require().NoError(err)

		_, _, err = s.service.ValidateToken(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
