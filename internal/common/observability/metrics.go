package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability bridges otel instruments into the Prometheus registry so
// deliberation counters show up on the same /metrics endpoint.
type Observability struct {
	meterProvider       *metric.MeterProvider
	meter               otelmetric.Meter
	deliberationCounter otelmetric.Int64Counter
	deliberationTime    otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	deliberations, _ := meter.Int64Counter(
		"council.deliberations",
		otelmetric.WithDescription("Number of council deliberations"),
	)

	duration, _ := meter.Float64Histogram(
		"council.deliberation.duration",
		otelmetric.WithDescription("Council deliberation duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:       provider,
		meter:               meter,
		deliberationCounter: deliberations,
		deliberationTime:    duration,
	}
}

// RecordDeliberation counts one finished deliberation by outcome
// (judged, degraded, no_quorum, cached).
func (o *Observability) RecordDeliberation(ctx context.Context, outcome string) {
	if o.deliberationCounter != nil {
		o.deliberationCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

// RecordDeliberationDuration records wall time of one deliberation.
func (o *Observability) RecordDeliberationDuration(ctx context.Context, duration time.Duration, outcome string) {
	if o.deliberationTime != nil {
		o.deliberationTime.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
