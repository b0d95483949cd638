// Package delivery defines the webhook delivery domain entity and the
// commands that drive its processing.
package delivery

import (
	"time"

	"github.com/forgeapp/forgeapp/internal/domain"
)

// WebhookDelivery is one accepted inbound webhook event. Once persisted it is
// immutable and never deleted; it is the audit and replay source of truth.
type WebhookDelivery struct {
	DeliveryID     string    `json:"delivery_id"`
	EventName      string    `json:"event_name"`
	Action         string    `json:"action,omitempty"`
	Payload        []byte    `json:"payload"`
	InstallationID int64     `json:"installation_id,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at"`
	ReceivedAt     time.Time `json:"received_at"`
}

// New validates and constructs a WebhookDelivery from a processing command.
func New(cmd ProcessCommand, now time.Time) (*WebhookDelivery, error) {
	if cmd.DeliveryID == "" {
		return nil, domain.NewCoded(domain.CodeDeliveryInvalid, "delivery id is empty")
	}
	if cmd.EventName == "" {
		return nil, domain.NewCoded(domain.CodeDeliveryInvalid, "event name is empty")
	}
	if cmd.DeliveredAt.IsZero() {
		return nil, domain.NewCoded(domain.CodeDeliveryInvalid, "delivered_at is zero")
	}
	return &WebhookDelivery{
		DeliveryID:     cmd.DeliveryID,
		EventName:      cmd.EventName,
		Action:         cmd.Action,
		Payload:        cmd.RawBody,
		InstallationID: cmd.InstallationID,
		DeliveredAt:    cmd.DeliveredAt,
		ReceivedAt:     now,
	}, nil
}

// IdempotencyKey derives the coordination token for a delivery. The same
// delivery id always yields the same key.
func IdempotencyKey(deliveryID string) string {
	return "webhook:delivery:" + deliveryID
}
