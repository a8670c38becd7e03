package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists keys for multi-step workflows delegated to the
// database. A key is generated once per logical user action, never per retry,
// so re-sending after a transient failure is safe.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyConflict indicates the workflow already ran under this key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// NewIdempotencyKey mints a fresh key for one logical action.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// CheckAndInsert claims the key for a workflow. A unique violation means the
// workflow has already been applied.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, workflow string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if workflow == "" {
		return errors.New("idempotency workflow required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, workflow, created_at) VALUES ($1, $2, $3)`, key, workflow, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}

// Release removes a claimed key so a failed workflow can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}
