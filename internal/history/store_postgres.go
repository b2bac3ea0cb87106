package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "granta/pkg/domain"
	"granta/internal/workflow/models"
	"granta/pkg/platform/sentinel"
	txcontext "granta/pkg/platform/tx"
)

// PostgresStore persists the ledger in the history_entries table. The
// (application_id, sequence) primary key enforces gaplessness: the next
// sequence is computed with MAX(sequence)+1 and a racing append surfaces as
// a unique violation, translated to sentinel.ErrConflict for the ledger to
// retry.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const uniqueViolation = "23505"

func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	execer := s.execer(ctx)

	query := `
		INSERT INTO history_entries
			(application_id, sequence, actor_id, actor_role, from_status, to_status, action, comment, request_id, created_at)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9
		FROM history_entries WHERE application_id = $1
		RETURNING sequence
	`
	err := execer.QueryRowContext(ctx, query,
		uuid.UUID(entry.ApplicationID),
		uuid.UUID(entry.ActorID),
		string(entry.ActorRole),
		string(entry.FromStatus),
		string(entry.ToStatus),
		string(entry.Action),
		entry.Comment,
		entry.RequestID,
		entry.Timestamp,
	).Scan(&entry.Sequence)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Entry{}, sentinel.ErrConflict
		}
		return Entry{}, fmt.Errorf("append history entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListByApplication(ctx context.Context, applicationID id.ApplicationID, afterSeq int64, limit int) ([]Entry, error) {
	query := `
		SELECT application_id, sequence, actor_id, actor_role, from_status, to_status, action, comment, request_id, created_at
		FROM history_entries
		WHERE application_id = $1 AND sequence > $2
		ORDER BY sequence ASC
	`
	args := []any{uuid.UUID(applicationID), afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e            Entry
			appID, actor uuid.UUID
			role         string
			from, to     string
			action       string
		)
		if err := rows.Scan(&appID, &e.Sequence, &actor, &role, &from, &to, &action, &e.Comment, &e.RequestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.ApplicationID = id.ApplicationID(appID)
		e.ActorID = id.ActorID(actor)
		e.ActorRole = id.Role(role)
		e.FromStatus = models.Phase(from)
		e.ToStatus = models.Phase(to)
		e.Action = models.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
