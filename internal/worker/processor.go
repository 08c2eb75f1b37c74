package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/mindgraph/internal/queue/streams"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"github.com/mohammad-safakhou/mindgraph/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultBlock       = 5 * time.Second
	defaultBatch       = 16
	defaultClaimIdle   = 5 * time.Minute
	defaultJobTimeout  = 2 * time.Minute
)

// Enricher is the ingestion pipeline the worker drives.
type Enricher interface {
	Enrich(ctx context.Context, ownerID, docID string) error
	MarkFailed(ctx context.Context, ownerID, docID string) error
}

// Source is the consumer side of the job stream.
type Source interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// lagReporter is implemented by sources that can report consumer group lag.
type lagReporter interface {
	Lag(ctx context.Context, stream string) (streams.LagMetrics, error)
}

// Sink publishes retries and completion events.
type Sink interface {
	Publish(ctx context.Context, stream string, env streams.Envelope, opts ...streams.PublishOption) (string, error)
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Config controls the processing loop.
type Config struct {
	Stream       string
	EventsStream string
	MaxAttempts  int
	Block        time.Duration
	Batch        int64
	ClaimIdle    time.Duration
	JobTimeout   time.Duration
}

// Processor consumes document.enrich events and runs enrichment for each.
type Processor struct {
	logger   *zap.Logger
	enricher Enricher
	source   Source
	sink     Sink
	cfg      Config
	tracer   trace.Tracer

	processed otelmetric.Int64Counter
	retried   otelmetric.Int64Counter
	failed    otelmetric.Int64Counter
}

// NewProcessor constructs a Processor. Zero config fields take defaults.
func NewProcessor(logger *zap.Logger, enricher Enricher, source Source, sink Sink, cfg Config, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = defaultClaimIdle
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	p := &Processor{logger: logger, enricher: enricher, source: source, sink: sink, cfg: cfg, tracer: tracer}
	if meter != nil {
		var err error
		if p.processed, err = meter.Int64Counter("worker_documents_processed_total"); err != nil {
			logger.Warn("create processed counter failed", zap.Error(err))
		}
		if p.retried, err = meter.Int64Counter("worker_documents_retried_total"); err != nil {
			logger.Warn("create retried counter failed", zap.Error(err))
		}
		if p.failed, err = meter.Int64Counter("worker_documents_failed_total"); err != nil {
			logger.Warn("create failed counter failed", zap.Error(err))
		}
	}
	return p
}

// Start blocks until ctx is cancelled. Entries abandoned by crashed workers are
// reclaimed at start and every ClaimIdle afterwards.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("worker processor starting", zap.String("stream", p.cfg.Stream))
	p.reclaim(ctx)
	lastClaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker processor stopping", zap.Error(ctx.Err()))
			return nil
		default:
		}

		if time.Since(lastClaim) >= p.cfg.ClaimIdle {
			p.reclaim(ctx)
			lastClaim = time.Now()
		}

		msgs, err := p.source.Read(ctx, p.cfg.Stream, streams.WithBlock(p.cfg.Block), streams.WithCount(p.cfg.Batch))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("read stream failed", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
		}
	}
}

func (p *Processor) reclaim(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := p.source.AutoClaim(ctx, p.cfg.Stream, p.cfg.ClaimIdle, start, p.cfg.Batch)
		if err != nil {
			p.logger.Warn("reclaim pending entries failed", zap.Error(err))
			return
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
		}
		if next == "" || next == "0-0" || len(msgs) == 0 {
			break
		}
		start = next
	}
	if lr, ok := p.source.(lagReporter); ok {
		lag, err := lr.Lag(ctx, p.cfg.Stream)
		if err != nil {
			p.logger.Debug("read group lag failed", zap.Error(err))
			return
		}
		p.logger.Info("consumer group lag",
			zap.Int64("pending", lag.Pending),
			zap.Int64("lag", lag.Lag),
			zap.Int64("consumers", lag.Consumers),
			zap.Duration("oldest_idle", lag.OldestIdle))
	}
}

// process handles one message and always acknowledges it; retries are new
// stream entries.
func (p *Processor) process(ctx context.Context, msg streams.Message) {
	if err := p.handle(ctx, msg); err != nil {
		p.logger.Error("handle enrich message failed", zap.String("id", msg.ID), zap.Error(err))
	}
	if err := p.source.Ack(ctx, p.cfg.Stream, msg.ID); err != nil {
		p.logger.Warn("ack failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) (err error) {
	env := msg.Envelope
	if env.EventType != streams.EventDocumentEnrich {
		p.logger.Debug("skipping unrelated event", zap.String("event_type", env.EventType))
		return nil
	}
	var job streams.EnrichPayload
	if err := env.Decode(&job); err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "worker.enrich", trace.WithAttributes(
		attribute.String("document_id", job.DocumentID),
		attribute.String("reason", job.Reason),
		attribute.Int("attempt", env.Attempt),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	enrichErr := p.enricher.Enrich(jobCtx, job.OwnerID, job.DocumentID)
	cancel()

	switch {
	case enrichErr == nil:
		add(ctx, p.processed)
		p.announce(ctx, job, models.DocumentStatusReady)
		return nil
	case errors.Is(enrichErr, store.ErrNotFound):
		p.logger.Warn("document gone; dropping job", zap.String("document_id", job.DocumentID))
		return nil
	case ctx.Err() != nil:
		// Shutting down: leave the document processing for the sweep.
		return ctx.Err()
	case env.Attempt+1 < p.cfg.MaxAttempts:
		add(ctx, p.retried)
		if _, err := p.sink.Publish(ctx, p.cfg.Stream, env.Retry()); err != nil {
			return fmt.Errorf("requeue after %v: %w", enrichErr, err)
		}
		p.logger.Warn("enrichment failed; requeued",
			zap.String("document_id", job.DocumentID), zap.Int("attempt", env.Attempt+1), zap.Error(enrichErr))
		return nil
	default:
		add(ctx, p.failed)
		if err := p.enricher.MarkFailed(ctx, job.OwnerID, job.DocumentID); err != nil {
			p.logger.Warn("mark failed", zap.String("document_id", job.DocumentID), zap.Error(err))
		}
		p.announce(ctx, job, models.DocumentStatusFailed)
		return fmt.Errorf("enrich %s gave up after %d attempts: %w", job.DocumentID, env.Attempt+1, enrichErr)
	}
}

func (p *Processor) announce(ctx context.Context, job streams.EnrichPayload, status models.DocumentStatus) {
	if p.cfg.EventsStream == "" || p.sink == nil {
		return
	}
	payload := streams.EnrichedPayload{DocumentID: job.DocumentID, OwnerID: job.OwnerID, Status: string(status)}
	if _, err := p.sink.PublishRaw(ctx, p.cfg.EventsStream, streams.EventDocumentEnriched, streams.VersionV1, payload); err != nil {
		p.logger.Warn("publish enriched event failed", zap.String("document_id", job.DocumentID), zap.Error(err))
	}
}

func add(ctx context.Context, c otelmetric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
