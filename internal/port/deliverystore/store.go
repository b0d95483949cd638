// Package deliverystore defines the port interface for durable delivery storage.
package deliverystore

import (
	"context"
	"time"

	"github.com/forgeapp/forgeapp/internal/domain/delivery"
)

// Store is the durable record of deliveries already accepted, keyed by the
// provider-assigned delivery identifier.
type Store interface {
	// Get returns the stored delivery, or domain.ErrNotFound.
	Get(ctx context.Context, deliveryID string) (*delivery.WebhookDelivery, error)
	// Save persists a delivery. Returns domain.ErrConflict when another
	// writer persisted the same delivery id concurrently.
	Save(ctx context.Context, d *delivery.WebhookDelivery) error
	// List returns up to limit deliveries received before the given time,
	// newest first. A zero before means "from the latest".
	List(ctx context.Context, limit int, before time.Time) ([]delivery.WebhookDelivery, error)
}
