// Package workflow owns the canonical application records and their
// persistence. Status transitions go through the service subpackage (the
// phase engine); the store is never handed to transport code directly.
package workflow

import (
	"context"

	"granta/internal/workflow/models"
	id "granta/pkg/domain"
)

// Store persists applications. Implementations return sentinel errors:
// ErrConflict on duplicate create, ErrNotFound on missing records.
type Store interface {
	Create(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, applicationID id.ApplicationID) (*models.Application, error)
	Update(ctx context.Context, app *models.Application) error
	ListByStatus(ctx context.Context, statuses ...models.Phase) ([]*models.Application, error)
}
