package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	txcontext "granta/pkg/platform/tx"
)

// Tx serializes all phase transitions on a single application: preconditions
// are evaluated and the three-way write (status + claim + history) committed
// under per-application exclusion. Transitions on different applications
// proceed in parallel.
type Tx interface {
	RunInTx(ctx context.Context, applicationID id.ApplicationID, fn func(ctx context.Context) error) error
}

// Instead of a single global lock, operations are distributed across N
// shards based on a hash of the application ID, reducing contention under
// concurrent load.
const numShards = 128

// defaultTxTimeout is the maximum duration for one transition commit.
const defaultTxTimeout = 5 * time.Second

// ShardedTx is the in-memory serializer: a sharded mutex keyed by
// application ID. Used with the memory stores, where the engine's
// compensation logic provides the all-or-nothing guarantee.
type ShardedTx struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewShardedTx() *ShardedTx {
	return &ShardedTx{timeout: defaultTxTimeout}
}

func (t *ShardedTx) RunInTx(ctx context.Context, applicationID id.ApplicationID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := hashID(applicationID.String()) % numShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring the lock.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}

// hashID uses FNV-1a for cheap, well-distributed shard selection.
func hashID(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// SQLTx runs the transition inside a single database transaction spanning
// the application, claim, and history tables; the stores pick the
// transaction up from the context. The per-application sharded lock is still
// taken so precondition evaluation is serialized process-locally too.
type SQLTx struct {
	db      *sql.DB
	sharded *ShardedTx
}

func NewSQLTx(db *sql.DB) *SQLTx {
	return &SQLTx{db: db, sharded: NewShardedTx()}
}

func (t *SQLTx) RunInTx(ctx context.Context, applicationID id.ApplicationID, fn func(ctx context.Context) error) error {
	return t.sharded.RunInTx(ctx, applicationID, func(ctx context.Context) error {
		dbTx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to begin transaction")
		}
		if err := fn(txcontext.WithTx(ctx, dbTx)); err != nil {
			_ = dbTx.Rollback()
			return err
		}
		if err := dbTx.Commit(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to commit transaction")
		}
		return nil
	})
}
