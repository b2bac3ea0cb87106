// Package history is the append-only transition ledger. Entries are
// immutable once written; per-application sequences are monotonic and
// gapless, and folding them in order reconstructs the application status.
package history

import (
	"time"

	"granta/internal/workflow/models"
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
)

// Entry is one immutable audit record. Sequence is assigned by the store at
// append time.
type Entry struct {
	ApplicationID id.ApplicationID `json:"application_id"`
	Sequence      int64            `json:"sequence"`
	ActorID       id.ActorID       `json:"actor_id"`
	ActorRole     id.Role          `json:"actor_role"`
	FromStatus    models.Phase     `json:"from_status"`
	ToStatus      models.Phase     `json:"to_status"`
	Action        models.Action    `json:"action"`
	Comment       string           `json:"comment,omitempty"`
	RequestID     string           `json:"request_id,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Replay folds entries in sequence order, starting from intake, and returns
// the status they reconstruct. It verifies the chain as it goes: sequences
// must be gapless from 1 and every entry's FromStatus must match the status
// reached so far. This is the core correctness property of the ledger.
func Replay(entries []Entry) (models.Phase, error) {
	status := models.PhaseIntake
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			return "", dErrors.Newf(dErrors.CodeInvariantViolation,
				"history gap: entry %d carries sequence %d", i+1, e.Sequence)
		}
		if e.FromStatus != status {
			return "", dErrors.Newf(dErrors.CodeInvariantViolation,
				"history fork at sequence %d: recorded from=%s, replayed=%s", e.Sequence, e.FromStatus, status)
		}
		status = e.ToStatus
	}
	return status, nil
}
