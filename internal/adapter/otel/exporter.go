package otel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Exporter wires the OTel meter provider to a Prometheus scrape endpoint.
type Exporter struct {
	meterProvider *sdkmetric.MeterProvider
}

// NewExporter creates a Prometheus-backed meter provider and installs it as
// the global provider. Call this before NewMetrics so the instruments bind to
// the real provider.
func NewExporter() (*Exporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	return &Exporter{meterProvider: meterProvider}, nil
}

// Handler returns the Prometheus scrape handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and shuts down the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.meterProvider != nil {
		return e.meterProvider.Shutdown(ctx)
	}
	return nil
}
