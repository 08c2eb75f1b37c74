package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/mindgraph/internal/queue/streams"
	"go.uber.org/zap"
)

// Job reasons.
const (
	ReasonUpload    = streams.ReasonUpload
	ReasonReprocess = streams.ReasonReprocess
	ReasonSweep     = streams.ReasonSweep
)

// Job asks for one document to be enriched.
type Job struct {
	DocumentID string
	OwnerID    string
	Reason     string
}

// Dispatcher hands enrichment jobs to whatever runs them.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, job Job) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, job Job) error { return f(ctx, job) }

// Enricher is the part of Coordinator the dispatchers drive.
type Enricher interface {
	Enrich(ctx context.Context, ownerID, docID string) error
}

// InlineDispatcher runs each job on its own goroutine in this process. Jobs
// outlive the dispatching request but not Wait.
type InlineDispatcher struct {
	enricher Enricher
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewInlineDispatcher returns a dispatcher bounded by timeout per job.
func NewInlineDispatcher(e Enricher, timeout time.Duration, logger *zap.Logger) *InlineDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InlineDispatcher{enricher: e, timeout: timeout, logger: logger}
}

// Dispatch starts the job and returns immediately.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job Job) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.enricher.Enrich(jobCtx, job.OwnerID, job.DocumentID); err != nil {
			d.logger.Warn("inline enrichment failed",
				zap.String("document_id", job.DocumentID), zap.String("reason", job.Reason), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }

// StreamDispatcher publishes document.enrich events for the worker.
type StreamDispatcher struct {
	publisher *streams.Publisher
	stream    string
}

// NewStreamDispatcher publishes to stream through p.
func NewStreamDispatcher(p *streams.Publisher, stream string) *StreamDispatcher {
	return &StreamDispatcher{publisher: p, stream: stream}
}

// Dispatch appends the job to the stream.
func (d *StreamDispatcher) Dispatch(ctx context.Context, job Job) error {
	_, err := d.publisher.PublishRaw(ctx, d.stream, streams.EventDocumentEnrich, streams.VersionV1, streams.EnrichPayload{
		DocumentID: job.DocumentID,
		OwnerID:    job.OwnerID,
		Reason:     job.Reason,
	})
	return err
}
