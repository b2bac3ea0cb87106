package domain

import (
	"github.com/google/uuid"

	dErrors "granta/pkg/domain-errors"
)

// Typed identifiers prevent cross-entity ID mix-ups at compile time.
// All IDs are UUIDs; parsing enforces the trust-boundary invariant that
// IDs are valid, non-empty, non-nil UUIDs.

type ApplicationID uuid.UUID

type ActorID uuid.UUID

type SubjectID uuid.UUID

type ChangeRequestID uuid.UUID

func (id ApplicationID) String() string   { return uuid.UUID(id).String() }
func (id ActorID) String() string         { return uuid.UUID(id).String() }
func (id SubjectID) String() string       { return uuid.UUID(id).String() }
func (id ChangeRequestID) String() string { return uuid.UUID(id).String() }

func (id ApplicationID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ChangeRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func NewApplicationID() ApplicationID     { return ApplicationID(uuid.New()) }
func NewActorID() ActorID                 { return ActorID(uuid.New()) }
func NewSubjectID() SubjectID             { return SubjectID(uuid.New()) }
func NewChangeRequestID() ChangeRequestID { return ChangeRequestID(uuid.New()) }

func ParseApplicationID(s string) (ApplicationID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ApplicationID{}, err
	}
	return ApplicationID(u), nil
}

func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ActorID{}, err
	}
	return ActorID(u), nil
}

func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return SubjectID{}, err
	}
	return SubjectID(u), nil
}

func ParseChangeRequestID(s string) (ChangeRequestID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ChangeRequestID{}, err
	}
	return ChangeRequestID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

// TokenRef is an opaque reference to a physical-asset token minted by an
// external collaborator. The core never inspects it beyond equality.
type TokenRef string

func (t TokenRef) IsZero() bool { return t == "" }
