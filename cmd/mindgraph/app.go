package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/mindgraph/config"
	"github.com/mohammad-safakhou/mindgraph/internal/blob"
	"github.com/mohammad-safakhou/mindgraph/internal/extract"
	"github.com/mohammad-safakhou/mindgraph/internal/graph"
	"github.com/mohammad-safakhou/mindgraph/internal/ingest"
	"github.com/mohammad-safakhou/mindgraph/internal/llm"
	"github.com/mohammad-safakhou/mindgraph/internal/queue/streams"
	"github.com/mohammad-safakhou/mindgraph/internal/runtime"
	"github.com/mohammad-safakhou/mindgraph/internal/search"
	"github.com/mohammad-safakhou/mindgraph/internal/server"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"github.com/mohammad-safakhou/mindgraph/internal/store/memory"
	"github.com/mohammad-safakhou/mindgraph/internal/textextract"
	"github.com/redis/go-redis/v9"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// repository is what both store implementations provide.
type repository interface {
	graph.Repository
	ingest.DocumentStore
	server.UserStore
	server.DocumentReader
	server.NodeReader
}

// app holds the process-wide collaborators shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *runtime.Telemetry
	meter     otelmetric.Meter
	tracer    trace.Tracer

	repo     repository
	pg       *store.Store
	rdb      *redis.Client
	registry *streams.SchemaRegistry
	gateway  *llm.Gateway
	index    *search.Index
	coord    *ingest.Coordinator

	closers []func() error
}

type appOptions struct {
	service string
	// inline forces in-process enrichment regardless of ingestion.dispatch.
	inline bool
}

func newApp(ctx context.Context, cfgPath string, opts appOptions) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := runtime.NewLogger(cfg.General, opts.service)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error { _ = logger.Sync(); return nil })

	tel, meter, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    "mindgraph-" + opts.service,
		ServiceVersion: version,
		MetricsPort:    cfg.Telemetry.MetricsPort,
		Logger:         logger.Named("telemetry"),
	})
	if err != nil {
		return nil, a.fail(fmt.Errorf("telemetry: %w", err))
	}
	a.telemetry, a.meter, a.tracer = tel, meter, tracer
	a.closers = append(a.closers, func() error { return tel.Shutdown(context.Background()) })

	if err := a.openStore(ctx); err != nil {
		return nil, a.fail(err)
	}
	if cfg.NeedsRedis() {
		rdb, err := runtime.OpenRedis(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, a.fail(err)
		}
		a.rdb = rdb
		a.closers = append(a.closers, rdb.Close)
		if a.registry, err = streams.NewBaseRegistry(); err != nil {
			return nil, a.fail(err)
		}
	}

	a.gateway = llm.NewGateway(llm.GatewayConfig{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Models:          cfg.LLM.Models,
		VisionModel:     cfg.LLM.VisionModel,
		Timeout:         cfg.LLM.Timeout,
		TopP:            cfg.LLM.TopP,
		BreakerFailures: cfg.LLM.BreakerFailures,
		BreakerCooldown: cfg.LLM.BreakerCooldown,
	}, logger.Named("llm"))
	if cfg.LLM.APIKey == "" {
		logger.Warn("llm.api_key is empty; AI calls will fail and documents stay unenriched")
	}

	if a.index, err = search.Open(cfg.Search.IndexPath); err != nil {
		return nil, a.fail(fmt.Errorf("open search index: %w", err))
	}
	a.closers = append(a.closers, a.index.Close)

	blobs, err := blob.NewFileStore(cfg.Storage.File.DataDir, cfg.Storage.File.BaseURL)
	if err != nil {
		return nil, a.fail(fmt.Errorf("blob store: %w", err))
	}

	text := textextract.NewRegistry(logger.Named("textextract"))
	text.Register("image/*", textextract.Vision(a.gateway))

	var locker graph.Locker = graph.NewKeyedMutex()
	if cfg.Graph.Lock == config.LockRedis {
		locker = &graph.RedisLocker{Client: a.rdb, Prefix: "mindgraph:graph:lock:", TTL: cfg.Graph.LockTTL}
	}

	var dispatcher ingest.Dispatcher
	if !opts.inline && cfg.Ingestion.Dispatch == config.DispatchStream {
		dispatcher = ingest.NewStreamDispatcher(streams.NewPublisher(a.rdb, a.registry), cfg.Ingestion.Stream)
	}

	a.coord = ingest.New(ingest.Config{
		MaxContentChars: cfg.Ingestion.MaxContentChars,
		TagsLimit:       cfg.Ingestion.TagsLimit,
		EnrichTimeout:   cfg.Ingestion.EnrichTimeout,
	}, ingest.Deps{
		Documents:  a.repo,
		Analyzer:   extract.New(a.gateway, logger.Named("extract")),
		Graph:      graph.NewBuilder(a.repo, locker, logger.Named("graph")),
		Text:       text,
		Blobs:      blobs,
		Index:      a.index,
		Dispatcher: dispatcher,
	}, logger.Named("ingest"))
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Storage.Driver == config.DriverMemory {
		a.logger.Warn("using the in-memory store; data is lost on exit")
		a.repo = memory.New()
		return nil
	}
	dsn, err := runtime.BuildPostgresDSN(a.cfg)
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.pg, a.repo = st, st
	a.closers = append(a.closers, st.Close)
	return nil
}

// wait blocks until in-process enrichment jobs finish.
func (a *app) wait() {
	if d, ok := a.coord.Dispatcher().(*ingest.InlineDispatcher); ok {
		d.Wait()
	}
}

func (a *app) fail(err error) error {
	return errors.Join(err, a.Close())
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
