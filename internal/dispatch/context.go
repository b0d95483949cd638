// Package dispatch routes accepted deliveries to registered event handlers.
package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/forgeapp/forgeapp/internal/domain/delivery"
)

// Context is the per-delivery execution scope handed to every matched
// handler. It carries the delivery, a delivery-scoped logger, and a small
// value bag through which the wiring layer exposes installation-scoped
// collaborators (API clients) to handlers.
type Context struct {
	ID       string
	Delivery *delivery.WebhookDelivery
	Log      *slog.Logger

	values map[string]any
}

// NewContext creates a fresh per-delivery scope.
func NewContext(d *delivery.WebhookDelivery, log *slog.Logger) *Context {
	id := uuid.NewString()
	return &Context{
		ID:       id,
		Delivery: d,
		Log: log.With(
			"dispatch_id", id,
			"delivery_id", d.DeliveryID,
			"event", d.EventName,
		),
		values: make(map[string]any),
	}
}

// Set stores a scoped collaborator under key.
func (c *Context) Set(key string, v any) {
	c.values[key] = v
}

// Value returns the scoped collaborator stored under key, or nil.
func (c *Context) Value(key string) any {
	return c.values[key]
}

// DecodePayload unmarshals the delivery payload into v.
func (c *Context) DecodePayload(v any) error {
	if err := json.Unmarshal(c.Delivery.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.Delivery.EventName, err)
	}
	return nil
}
