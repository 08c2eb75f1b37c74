package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	graphMetricsOnce sync.Once
	mergeDuration    otelmetric.Float64Histogram
	nodesCreated     otelmetric.Int64Counter
)

func initGraphMetrics() {
	meter := otel.Meter("mindgraph/graph")
	var err error
	mergeDuration, err = meter.Float64Histogram(
		"graph_merge_duration_seconds",
		otelmetric.WithDescription("Time spent merging one document into the graph"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	nodesCreated, err = meter.Int64Counter(
		"graph_nodes_created_total",
		otelmetric.WithDescription("Knowledge nodes created by type"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordMergeDuration(ctx context.Context, d time.Duration, ok bool) {
	graphMetricsOnce.Do(initGraphMetrics)
	if mergeDuration != nil {
		mergeDuration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(attribute.Bool("success", ok)))
	}
}

func recordNodeCreated(ctx context.Context, t NodeType) {
	graphMetricsOnce.Do(initGraphMetrics)
	if nodesCreated != nil {
		nodesCreated.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", string(t))))
	}
}
