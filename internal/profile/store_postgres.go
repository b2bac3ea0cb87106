package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
	txcontext "granta/pkg/platform/tx"
)

// PostgresStore persists profiles one column per field; the composite
// location is stored as its region and address parts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO profiles (id, identity_number, full_name, region, address, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.IdentityNumber, p.FullName, p.Region, p.Address,
		p.Phone, p.Email, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, subjectID id.SubjectID) (*Profile, error) {
	query := `
		SELECT id, identity_number, full_name, region, address, phone, email, created_at, updated_at
		FROM profiles WHERE id = $1
	`
	var (
		p   Profile
		pid uuid.UUID
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(subjectID)).Scan(
		&pid, &p.IdentityNumber, &p.FullName, &p.Region, &p.Address,
		&p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("select profile: %w", err)
	}
	p.ID = id.SubjectID(pid)
	return &p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *Profile) error {
	query := `
		UPDATE profiles
		SET identity_number = $2, full_name = $3, region = $4, address = $5, phone = $6, email = $7, updated_at = $8
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.IdentityNumber, p.FullName, p.Region, p.Address,
		p.Phone, p.Email, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
