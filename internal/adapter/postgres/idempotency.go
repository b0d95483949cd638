package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore implements the idempotency port on a unique constraint.
// Durable and safe across process instances; expiry is not native, so
// CleanupExpired must run periodically to keep the table bounded.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore creates an IdempotencyStore backed by the given pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// TryAcquire optimistically inserts the claim; losing the insert race to the
// unique constraint means another caller holds the key, not an error.
func (s *IdempotencyStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, expires_at) VALUES ($1, now() + $2)`,
		key, ttl)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquire idempotency key: %w", err)
	}
	return true, nil
}

// Exists probes for an unexpired claim.
func (s *IdempotencyStore) Exists(ctx context.Context, key string) (bool, error) {
	var held bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM idempotency_keys WHERE key = $1 AND expires_at > now())`,
		key).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("probe idempotency key: %w", err)
	}
	return held, nil
}

// Release drops the claim early. Deleting an absent key is a no-op.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// CleanupExpired sweeps claims past their recorded expiry and returns the
// number of rows removed.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
