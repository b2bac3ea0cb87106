package changerequest

import (
	"context"

	id "granta/pkg/domain"
)

// Store persists change requests.
//
// Create returns sentinel.ErrConflict when a pending request already exists
// for the same (subject, field) pair; FindByID and Update return
// sentinel.ErrNotFound for unknown IDs.
type Store interface {
	Create(ctx context.Context, cr *ChangeRequest) error
	FindByID(ctx context.Context, requestID id.ChangeRequestID) (*ChangeRequest, error)
	Update(ctx context.Context, cr *ChangeRequest) error
	ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]*ChangeRequest, error)
}
