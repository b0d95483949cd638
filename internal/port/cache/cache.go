// Package cache defines the port interface for keyed byte caching.
package cache

import (
	"context"
	"time"
)

// Cache is a shared, mutable, keyed store. Writes are last-writer-wins; the
// token cache relies on entries being fungible until their TTL elapses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
