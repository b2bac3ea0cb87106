package profile

import (
	"context"

	id "granta/pkg/domain"
)

// Store persists profiles. Stores return sentinel errors; the service
// translates them into coded domain errors.
type Store interface {
	Create(ctx context.Context, p *Profile) error
	FindByID(ctx context.Context, subjectID id.SubjectID) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
}
