package delivery

import "time"

// ProcessCommand bundles everything a single inbound delivery attempt carries.
// RawBody is the exact bytes as received; signature verification runs over
// these bytes, never over a re-serialized form. Immutable once constructed.
type ProcessCommand struct {
	DeliveryID      string    `json:"delivery_id"`
	EventName       string    `json:"event_name"`
	Action          string    `json:"action,omitempty"`
	RawBody         []byte    `json:"raw_body"`
	SignatureHeader string    `json:"signature_header"`
	InstallationID  int64     `json:"installation_id,omitempty"`
	DeliveredAt     time.Time `json:"delivered_at"`
}

// ReplayCommand wraps a ProcessCommand with a 0-based attempt counter.
// Each requeue increments Attempt.
type ReplayCommand struct {
	Command ProcessCommand `json:"command"`
	Attempt int            `json:"attempt"`
}
