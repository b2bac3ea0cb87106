package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"granta/internal/workflow/models"
	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
	txcontext "granta/pkg/platform/tx"
)

// PostgresStore persists applications with the payload as JSONB. Update
// guards on the previous updated_at so a stale write inside a racing commit
// is caught even without the per-application lock.
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

func (s *PostgresStore) Create(ctx context.Context, app *models.Application) error {
	payload, err := json.Marshal(app.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := `
		INSERT INTO applications (id, status, applicant_ref, asset_token_ref, payload, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(app.ID),
		string(app.Status),
		uuid.UUID(app.ApplicantRef),
		string(app.AssetTokenRef),
		payload,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, applicationID id.ApplicationID) (*models.Application, error) {
	query := `
		SELECT id, status, applicant_ref, COALESCE(asset_token_ref, ''), payload, created_at, updated_at
		FROM applications WHERE id = $1
	`
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(applicationID)))
}

func (s *PostgresStore) Update(ctx context.Context, app *models.Application) error {
	payload, err := json.Marshal(app.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := `
		UPDATE applications
		SET status = $2, payload = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(app.ID),
		string(app.Status),
		payload,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application result: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...models.Phase) ([]*models.Application, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := `
		SELECT id, status, applicant_ref, COALESCE(asset_token_ref, ''), payload, created_at, updated_at
		FROM applications
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []*models.Application
	for rows.Next() {
		app, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.Application, error) {
	app, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return app, nil
}

func (s *PostgresStore) scanRow(row rowScanner) (*models.Application, error) {
	var (
		app              models.Application
		appID, applicant uuid.UUID
		status, token    string
		payload          []byte
	)
	if err := row.Scan(&appID, &status, &applicant, &token, &payload, &app.CreatedAt, &app.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan application: %w", err)
	}
	app.ID = id.ApplicationID(appID)
	app.Status = models.Phase(status)
	app.ApplicantRef = id.SubjectID(applicant)
	app.AssetTokenRef = id.TokenRef(token)
	if err := json.Unmarshal(payload, &app.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &app, nil
}
