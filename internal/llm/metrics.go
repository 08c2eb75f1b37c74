package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	llmMetricsOnce    sync.Once
	candidateFailures otelmetric.Int64Counter
	completions       otelmetric.Int64Counter
	streamSessions    otelmetric.Int64Counter
)

func initLLMMetrics() {
	meter := otel.Meter("mindgraph/llm")
	var err error
	candidateFailures, err = meter.Int64Counter(
		"llm_candidate_failures_total",
		otelmetric.WithDescription("Completion attempts that failed for a candidate model"),
	)
	if err != nil {
		otel.Handle(err)
	}
	completions, err = meter.Int64Counter(
		"llm_completions_total",
		otelmetric.WithDescription("Successful blocking completions per model"),
	)
	if err != nil {
		otel.Handle(err)
	}
	streamSessions, err = meter.Int64Counter(
		"llm_stream_sessions_total",
		otelmetric.WithDescription("Streaming completions opened against upstream"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordCandidateFailure(ctx context.Context, model string) {
	llmMetricsOnce.Do(initLLMMetrics)
	if candidateFailures != nil {
		candidateFailures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("model", model)))
	}
}

func recordCompletion(ctx context.Context, model string) {
	llmMetricsOnce.Do(initLLMMetrics)
	if completions != nil {
		completions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("model", model)))
	}
}

func recordStreamSession(ctx context.Context, model string) {
	llmMetricsOnce.Do(initLLMMetrics)
	if streamSessions != nil {
		streamSessions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("model", model)))
	}
}
