package claims

import (
	"context"
	"errors"
	"log/slog"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/platform/sentinel"
	"granta/pkg/requestcontext"
)

// Registry wraps a Store with validation and error translation. The phase
// engine calls Claim/Release inside its commit; Peek serves diagnostics.
type Registry struct {
	store  Store
	logger *slog.Logger
}

type RegistryOption func(*Registry)

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Claim atomically binds token to applicationID. Losing the race to a
// different application surfaces as CodeTokenConflict, retryable only after
// the holder's status changes.
func (r *Registry) Claim(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID) error {
	if token.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "asset token reference must not be empty")
	}
	if applicationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "application id must be set")
	}
	err := r.store.Claim(ctx, token, applicationID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrHeld) {
			r.logger.InfoContext(ctx, "uniqueness claim lost",
				"asset_token_ref", string(token),
				"application_id", applicationID.String(),
			)
			return dErrors.New(dErrors.CodeTokenConflict, "asset token already claimed by another application")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim asset token")
	}
	return nil
}

// Release drops the claim if held by applicationID; otherwise it is a no-op.
func (r *Registry) Release(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID) error {
	if token.IsZero() {
		return nil
	}
	if err := r.store.Release(ctx, token, applicationID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release asset token claim")
	}
	return nil
}

// Peek reports the current holder, if any. Read-only; transition decisions
// always go through Claim.
func (r *Registry) Peek(ctx context.Context, token id.TokenRef) (Claim, error) {
	claim, err := r.store.Peek(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Claim{}, dErrors.New(dErrors.CodeNotFound, "no claim for asset token")
		}
		return Claim{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read asset token claim")
	}
	return claim, nil
}
