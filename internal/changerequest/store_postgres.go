package changerequest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
	txcontext "granta/pkg/platform/tx"
)

// PostgresStore persists change requests. The single-pending rule is backed
// by the partial unique index on (subject_id, field) WHERE status='pending',
// so a racing duplicate proposal loses at commit time.
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

func (s *PostgresStore) Create(ctx context.Context, cr *ChangeRequest) error {
	query := `
		INSERT INTO change_requests
			(id, subject_id, field, old_value, new_value, status, requested_by, resolved_by, note, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(cr.ID),
		uuid.UUID(cr.SubjectID),
		cr.Field,
		cr.OldValue,
		cr.NewValue,
		string(cr.Status),
		uuid.UUID(cr.RequestedBy),
		nullableActor(cr.ResolvedBy),
		cr.Note,
		cr.CreatedAt,
		nullableTime(cr.ResolvedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.ChangeRequestID) (*ChangeRequest, error) {
	query := selectColumns + ` FROM change_requests WHERE id = $1`
	return scanOne(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
}

func (s *PostgresStore) Update(ctx context.Context, cr *ChangeRequest) error {
	query := `
		UPDATE change_requests
		SET status = $2, resolved_by = $3, note = $4, resolved_at = $5
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(cr.ID),
		string(cr.Status),
		nullableActor(cr.ResolvedBy),
		cr.Note,
		nullableTime(cr.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update change request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update change request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]*ChangeRequest, error) {
	query := selectColumns + ` FROM change_requests WHERE subject_id = $1 ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	defer rows.Close()

	var out []*ChangeRequest
	for rows.Next() {
		cr, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, subject_id, field, old_value, new_value, status, requested_by, resolved_by, note, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*ChangeRequest, error) {
	cr, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return cr, err
}

func scanRow(row rowScanner) (*ChangeRequest, error) {
	var (
		cr         ChangeRequest
		crID       uuid.UUID
		subject    uuid.UUID
		requested  uuid.UUID
		status     string
		resolvedBy uuid.NullUUID
		resolvedAt sql.NullTime
	)
	err := row.Scan(&crID, &subject, &cr.Field, &cr.OldValue, &cr.NewValue, &status,
		&requested, &resolvedBy, &cr.Note, &cr.CreatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan change request: %w", err)
	}
	cr.ID = id.ChangeRequestID(crID)
	cr.SubjectID = id.SubjectID(subject)
	cr.RequestedBy = id.ActorID(requested)
	cr.Status = Status(status)
	if resolvedBy.Valid {
		cr.ResolvedBy = id.ActorID(resolvedBy.UUID)
	}
	if resolvedAt.Valid {
		cr.ResolvedAt = resolvedAt.Time
	}
	return &cr, nil
}

func nullableActor(actorID id.ActorID) uuid.NullUUID {
	return uuid.NullUUID{UUID: uuid.UUID(actorID), Valid: !actorID.IsNil()}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
