// Package otel holds the OpenTelemetry metric instruments and the
// Prometheus-backed exporter setup.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "forgeapp"

// Metrics holds all forgeapp metric instruments.
type Metrics struct {
	DeliveriesReceived  metric.Int64Counter
	DeliveriesDuplicate metric.Int64Counter
	DeliveriesPersisted metric.Int64Counter
	RoutingFailures     metric.Int64Counter
	HandlerFailures     metric.Int64Counter
	ReplaysScheduled    metric.Int64Counter
	ReplaysExhausted    metric.Int64Counter
	TokenMints          metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.DeliveriesReceived, err = meter.Int64Counter("forgeapp.deliveries.received",
		metric.WithDescription("Number of webhook deliveries accepted for processing"))
	if err != nil {
		return nil, err
	}

	m.DeliveriesDuplicate, err = meter.Int64Counter("forgeapp.deliveries.duplicate",
		metric.WithDescription("Number of deliveries skipped as already processed"))
	if err != nil {
		return nil, err
	}

	m.DeliveriesPersisted, err = meter.Int64Counter("forgeapp.deliveries.persisted",
		metric.WithDescription("Number of deliveries durably stored"))
	if err != nil {
		return nil, err
	}

	m.RoutingFailures, err = meter.Int64Counter("forgeapp.routing.failures",
		metric.WithDescription("Number of dispatch runs that recorded at least one handler failure"))
	if err != nil {
		return nil, err
	}

	m.HandlerFailures, err = meter.Int64Counter("forgeapp.handler.failures",
		metric.WithDescription("Number of individual handler failures"))
	if err != nil {
		return nil, err
	}

	m.ReplaysScheduled, err = meter.Int64Counter("forgeapp.replays.scheduled",
		metric.WithDescription("Number of deliveries requeued for replay"))
	if err != nil {
		return nil, err
	}

	m.ReplaysExhausted, err = meter.Int64Counter("forgeapp.replays.exhausted",
		metric.WithDescription("Number of deliveries that exceeded the replay attempt limit"))
	if err != nil {
		return nil, err
	}

	m.TokenMints, err = meter.Int64Counter("forgeapp.tokens.minted",
		metric.WithDescription("Number of installation tokens minted upstream"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
