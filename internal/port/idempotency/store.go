// Package idempotency defines the port interface for the atomic
// claim-a-key-once coordination primitive.
package idempotency

import (
	"context"
	"time"
)

// Store claims idempotency keys atomically under arbitrary concurrent
// callers. Three interchangeable backends implement it: in-process
// (memstore), relational (postgres) and remote (redisstore). Their
// externally observable semantics are identical; durability and
// failure-mode tradeoffs differ per backend and are documented there.
type Store interface {
	// TryAcquire atomically claims key until ttl elapses. Exactly one of N
	// concurrent callers for the same key observes true.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Exists is a racy observability probe; never use it for the acquire
	// decision.
	Exists(ctx context.Context, key string) (bool, error)
	// Release drops the claim early. Releasing an absent key is not an error.
	Release(ctx context.Context, key string) error
	// CleanupExpired sweeps expired claims for backends without native TTL
	// and returns the number removed; backends with native expiry return 0.
	CleanupExpired(ctx context.Context) (int64, error)
}
