package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/mindgraph/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const otlpExportInterval = 15 * time.Second

// Telemetry owns the meter and tracer providers of one process and the
// optional standalone metrics listener.
type Telemetry struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
	server   *http.Server
}

// TelemetryOptions names the process being instrumented.
type TelemetryOptions struct {
	ServiceName    string
	ServiceVersion string
	MetricsPort    int
	Logger         *zap.Logger
}

// SetupTelemetry installs the global providers. Metrics always go through a
// Prometheus registry; spans and a copy of the metrics are exported over OTLP
// only when an endpoint is configured. Disabled telemetry returns the global
// no-op meter and tracer.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, opts TelemetryOptions) (*Telemetry, otelmetric.Meter, trace.Tracer, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Telemetry{}, otel.Meter(opts.ServiceName), otel.Tracer(opts.ServiceName), nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
		attribute.String("service.namespace", "mindgraph"),
	))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry resource: %w", err)
	}

	t := &Telemetry{registry: prometheus.NewRegistry()}
	readers := []sdkmetric.Option{sdkmetric.WithResource(res)}
	prom, err := promexporter.New(promexporter.WithRegisterer(t.registry))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	readers = append(readers, sdkmetric.WithReader(prom))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		dial := grpc.WithUserAgent("mindgraph/" + opts.ServiceName)
		spans, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(dial),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spans))

		metrics, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithDialOption(dial),
		)
		if err != nil {
			_ = spans.Shutdown(ctx)
			return nil, nil, nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(otlpExportInterval))))
	}

	t.tp = sdktrace.NewTracerProvider(traceOpts...)
	t.mp = sdkmetric.NewMeterProvider(readers...)
	otel.SetTracerProvider(t.tp)
	otel.SetMeterProvider(t.mp)

	if opts.MetricsPort > 0 {
		t.serve(opts.MetricsPort, opts.Logger)
	}
	opts.Logger.Info("telemetry enabled",
		zap.String("service", opts.ServiceName),
		zap.Bool("otlp", cfg.OTLPEndpoint != ""),
		zap.Int("metrics_port", opts.MetricsPort))
	return t, t.mp.Meter(opts.ServiceName), t.tp.Tracer(opts.ServiceName), nil
}

func (t *Telemetry) serve(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener stopped", zap.Error(err))
		}
	}()
}

// Handler serves the Prometheus view of the meter provider, or the default
// registry when telemetry is disabled.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the metrics listener and flushes both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics listener: %w", err))
		}
	}
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
