package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "granta/pkg/platform/audit"
	txcontext "granta/pkg/platform/tx"
)

// Store materializes audit events in the audit_events table for querying.
// When Kafka is configured the publisher is the primary sink and this store
// backs the local compliance view.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	query := `
		INSERT INTO audit_events (id, category, subject, action, actor_id, actor_role, decision, reason, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		string(category),
		event.Subject,
		event.Action,
		event.ActorID,
		event.ActorRole,
		event.Decision,
		event.Reason,
		event.RequestID,
		ts,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
