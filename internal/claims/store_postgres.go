package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "granta/pkg/domain"
	"granta/pkg/platform/sentinel"
	txcontext "granta/pkg/platform/tx"
)

// PostgresStore implements the registry with a transactional insert-or-keep:
// ON CONFLICT DO NOTHING makes the primary key the arbiter, so two
// applications racing on the same token resolve deterministically inside
// PostgreSQL regardless of the per-application locks above.
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

func (s *PostgresStore) Claim(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID, now time.Time) error {
	execer := s.execer(ctx)

	query := `
		INSERT INTO uniqueness_claims (asset_token_ref, holding_application_id, claimed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_token_ref) DO NOTHING
	`
	res, err := execer.ExecContext(ctx, query, string(token), uuid.UUID(applicationID), now)
	if err != nil {
		return fmt.Errorf("insert uniqueness claim: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("uniqueness claim result: %w", err)
	}
	if inserted == 1 {
		return nil
	}

	// Row already exists; succeed only when we are the holder.
	var holder uuid.UUID
	err = execer.QueryRowContext(ctx,
		`SELECT holding_application_id FROM uniqueness_claims WHERE asset_token_ref = $1`,
		string(token),
	).Scan(&holder)
	if err != nil {
		return fmt.Errorf("read uniqueness claim: %w", err)
	}
	if id.ApplicationID(holder) != applicationID {
		return sentinel.ErrHeld
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM uniqueness_claims WHERE asset_token_ref = $1 AND holding_application_id = $2`,
		string(token), uuid.UUID(applicationID),
	)
	if err != nil {
		return fmt.Errorf("release uniqueness claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) Peek(ctx context.Context, token id.TokenRef) (Claim, error) {
	var (
		holder    uuid.UUID
		claimedAt time.Time
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT holding_application_id, claimed_at FROM uniqueness_claims WHERE asset_token_ref = $1`,
		string(token),
	).Scan(&holder, &claimedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Claim{}, sentinel.ErrNotFound
		}
		return Claim{}, fmt.Errorf("peek uniqueness claim: %w", err)
	}
	return Claim{
		AssetTokenRef:        token,
		HoldingApplicationID: id.ApplicationID(holder),
		ClaimedAt:            claimedAt,
	}, nil
}
