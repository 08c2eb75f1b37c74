package streams

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	publishedCounter  otelmetric.Int64Counter
	droppedCounter    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("mindgraph/queue/streams")
	publishedCounter, _ = meter.Int64Counter(
		"stream_events_published_total",
		otelmetric.WithDescription("Envelopes appended to Redis streams"),
	)
	droppedCounter, _ = meter.Int64Counter(
		"stream_entries_dropped_total",
		otelmetric.WithDescription("Stream entries acknowledged without processing because they failed to decode"),
	)
}

func recordPublished(ctx context.Context, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if publishedCounter != nil {
		publishedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

func recordDropped(ctx context.Context, reason string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if droppedCounter != nil {
		droppedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
	}
}
