package history

import (
	"context"

	id "granta/pkg/domain"
)

// Store persists ledger entries. No update or delete operations exist by
// design.
//
// Append assigns the next per-application sequence and returns the stored
// entry. Implementations that compute the sequence outside a lock must
// return sentinel.ErrConflict when two appends race for the same slot; the
// ledger retries with a freshly computed sequence, never skipping one.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	// ListByApplication returns entries with sequence > afterSeq, ascending,
	// at most limit (0 means no limit).
	ListByApplication(ctx context.Context, applicationID id.ApplicationID, afterSeq int64, limit int) ([]Entry, error)
}
