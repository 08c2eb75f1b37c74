package ingest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	ingestMetricsOnce sync.Once
	uploadsCounter    otelmetric.Int64Counter
	enrichDuration    otelmetric.Float64Histogram
)

func initIngestMetrics() {
	meter := otel.Meter("mindgraph/ingest")
	var err error
	uploadsCounter, err = meter.Int64Counter(
		"documents_uploaded_total",
		otelmetric.WithDescription("Documents stored by content type"),
	)
	if err != nil {
		otel.Handle(err)
	}
	enrichDuration, err = meter.Float64Histogram(
		"document_enrich_duration_seconds",
		otelmetric.WithDescription("Wall time of one document enrichment"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordUpload(ctx context.Context, contentType string) {
	ingestMetricsOnce.Do(initIngestMetrics)
	if uploadsCounter != nil {
		uploadsCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("content_type", contentType)))
	}
}

func recordEnrich(ctx context.Context, d time.Duration, ok bool) {
	ingestMetricsOnce.Do(initIngestMetrics)
	if enrichDuration != nil {
		enrichDuration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(attribute.Bool("success", ok)))
	}
}
