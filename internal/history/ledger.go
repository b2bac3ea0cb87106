package history

import (
	"context"
	"errors"
	"log/slog"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/platform/sentinel"
)

// appendAttempts bounds retries after a sequence race. Each retry recomputes
// the sequence, so a slot is never skipped.
const appendAttempts = 3

// Ledger wraps a Store with retry and error translation. It is the only
// write path into the history tables.
type Ledger struct {
	store  Store
	logger *slog.Logger

	// onRetry is invoked when an append loses a sequence race, for metrics.
	onRetry func()
}

type LedgerOption func(*Ledger)

func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

func WithRetryHook(fn func()) LedgerOption {
	return func(l *Ledger) { l.onRetry = fn }
}

func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append persists an entry, retrying with a fresh sequence when a concurrent
// append claims the slot first. After the retry budget the race surfaces as
// CodeConcurrentWrite for the caller to handle.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Entry, error) {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		stored, err := l.store.Append(ctx, entry)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append history entry")
		}
		lastErr = err
		if l.onRetry != nil {
			l.onRetry()
		}
		l.logger.WarnContext(ctx, "history sequence race, retrying append",
			"application_id", entry.ApplicationID.String(),
			"attempt", attempt+1,
		)
	}
	return Entry{}, dErrors.Wrap(lastErr, dErrors.CodeConcurrentWrite, "history append lost sequence race")
}

// ListByApplication returns one page of entries after the sequence cursor,
// plus the cursor for the next page (0 when exhausted).
func (l *Ledger) ListByApplication(ctx context.Context, applicationID id.ApplicationID, afterSeq int64, limit int) ([]Entry, int64, error) {
	entries, err := l.store.ListByApplication(ctx, applicationID, afterSeq, limit)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list history")
	}
	var next int64
	if limit > 0 && len(entries) == limit {
		next = entries[len(entries)-1].Sequence
	}
	return entries, next, nil
}

// ReplayStatus folds the full ledger of an application and returns the
// status it reconstructs. Used by the verification endpoint and tests.
func (l *Ledger) ReplayStatus(ctx context.Context, applicationID id.ApplicationID) (status string, err error) {
	entries, err := l.store.ListByApplication(ctx, applicationID, 0, 0)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list history")
	}
	phase, err := Replay(entries)
	if err != nil {
		return "", err
	}
	return string(phase), nil
}
