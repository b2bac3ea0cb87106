// Package claims is the uniqueness registry: it arbitrates which single
// application holds the approved status for a given asset token. Claim is
// the only safe check-and-set; Peek is diagnostics only.
package claims

import (
	"context"
	"time"

	id "granta/pkg/domain"
)

// Claim binds one asset token to the application holding its approval.
type Claim struct {
	AssetTokenRef        id.TokenRef      `json:"asset_token_ref"`
	HoldingApplicationID id.ApplicationID `json:"holding_application_id"`
	ClaimedAt            time.Time        `json:"claimed_at"`
}

// Store is the atomic check-and-set backing the registry.
//
// Claim returns sentinel.ErrHeld when the token is held by a different
// application; re-claiming by the same holder succeeds. Release is
// idempotent: releasing a claim not held by the caller is a no-op. Peek
// returns sentinel.ErrNotFound when no claim exists.
type Store interface {
	Claim(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID, now time.Time) error
	Release(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID) error
	Peek(ctx context.Context, token id.TokenRef) (Claim, error)
}
