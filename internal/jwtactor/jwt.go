package jwtactor

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
)

// Claims represents the JWT claims issued by the external authentication
// collaborator. The core validates the signature and extracts the actor
// context; it never issues credentials of its own.
type Claims struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Service handles JWT validation (and creation, used by tests and tooling).
type Service struct {
	signingKey []byte
	issuer     string
}

func New(signingKey string, issuer string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer}
}

// GenerateActorToken mints a signed token for an actor. Production tokens
// come from the authentication collaborator; this exists for tests and dev
// tooling on the same signing key.
func (s *Service) GenerateActorToken(actorID id.ActorID, role id.Role, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID: actorID.String(),
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken parses and validates a token, returning the actor context.
func (s *Service) ValidateToken(tokenString string) (id.ActorID, id.Role, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.ActorID{}, "", dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.ActorID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.ActorID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	actorID, err := id.ParseActorID(claims.ActorID)
	if err != nil {
		return id.ActorID{}, "", dErrors.New(dErrors.CodeUnauthorized, "token carries no valid actor id")
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return id.ActorID{}, "", dErrors.New(dErrors.CodeUnauthorized, "token carries no valid role")
	}
	return actorID, role, nil
}
