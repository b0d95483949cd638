// Package redisstore implements the idempotency port on Redis using the
// native atomic SET NX with per-key TTL.
package redisstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store claims keys via SET NX. On transport failure it fails open:
// TryAcquire and Exists report false instead of erroring, so an
// infrastructure outage never blocks the webhook pipeline. The tradeoff is
// explicit: an outage may cause duplicate processing, never dropped
// processing.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// TryAcquire atomically claims key for ttl via SET NX.
func (s *Store) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		slog.Warn("idempotency: redis unreachable, failing open", "key", key, "error", err)
		return false, nil
	}
	return ok, nil
}

// Exists probes for a live claim.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		slog.Warn("idempotency: redis unreachable, failing open", "key", key, "error", err)
		return false, nil
	}
	return n > 0, nil
}

// Release drops the claim early. Absent keys and transport failures are
// non-errors; an unreleased claim simply ages out via its TTL.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("idempotency: redis release failed", "key", key, "error", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis expires claims natively.
func (s *Store) CleanupExpired(context.Context) (int64, error) {
	return 0, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
