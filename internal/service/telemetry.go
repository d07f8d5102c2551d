package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/zhejian/pastebin/internal/service"

var tracer = otel.Tracer(instrumentationName)

// Fetch outcomes recorded on paste_fetches_total
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

type serviceMetrics struct {
	created metric.Int64Counter
	fetches metric.Int64Counter
}

func newServiceMetrics() *serviceMetrics {
	meter := otel.Meter(instrumentationName)

	// Instrument errors only happen on invalid names; the returned
	// instruments are still usable no-ops.
	created, _ := meter.Int64Counter("pastes_created_total",
		metric.WithDescription("Pastes successfully created"))
	fetches, _ := meter.Int64Counter("paste_fetches_total",
		metric.WithDescription("Paste reads by outcome"))

	return &serviceMetrics{created: created, fetches: fetches}
}

func (m *serviceMetrics) recordCreate(ctx context.Context) {
	m.created.Add(ctx, 1)
}

func (m *serviceMetrics) recordFetch(ctx context.Context, outcome string) {
	m.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
