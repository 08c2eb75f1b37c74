// Package ingest sequences document storage, enrichment and graph updates.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/mindgraph/internal/blob"
	"github.com/mohammad-safakhou/mindgraph/internal/embedding"
	"github.com/mohammad-safakhou/mindgraph/internal/extract"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"github.com/mohammad-safakhou/mindgraph/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxContentChars = 100000
	DefaultTagsLimit       = 5
	DefaultEnrichTimeout   = 2 * time.Minute

	untitled = "Untitled"
)

var (
	// ErrEmptyDocument is returned by Upload when there is neither text nor a file.
	ErrEmptyDocument = errors.New("ingest: document has no content")
	ErrOwnerRequired = errors.New("ingest: owner id required")
)

// DocumentStore is the document half of the repository.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d models.Document) (models.Document, error)
	UpdateDocument(ctx context.Context, ownerID, id string, patch models.DocumentPatch) error
	GetDocument(ctx context.Context, ownerID, id string) (models.Document, bool, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Document, error)
}

// Analyzer runs the structured extractions.
type Analyzer interface {
	Summarize(ctx context.Context, text string) (string, error)
	ExtractTypedEntities(ctx context.Context, text string) []extract.TypedEntity
	ExtractKeyPoints(ctx context.Context, text string) []string
}

// GraphMerger applies extracted entities to the owner's graph and never fails.
type GraphMerger interface {
	MergeDocument(ctx context.Context, ownerID, docID, title string, entities []extract.TypedEntity)
}

// TextExtractor turns uploaded bytes into text, returning "" when it cannot.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) string
}

// Indexer receives every enriched document.
type Indexer interface {
	Put(d models.Document) error
}

// Config holds coordinator limits.
type Config struct {
	MaxContentChars int
	TagsLimit       int
	EnrichTimeout   time.Duration
}

// Deps are the coordinator's collaborators. Blobs, Text, Index and Dispatcher
// are optional.
type Deps struct {
	Documents  DocumentStore
	Analyzer   Analyzer
	Graph      GraphMerger
	Text       TextExtractor
	Blobs      blob.Store
	Index      Indexer
	Dispatcher Dispatcher
}

// Coordinator owns the upload and enrichment pipeline.
type Coordinator struct {
	cfg        Config
	docs       DocumentStore
	analyzer   Analyzer
	graph      GraphMerger
	text       TextExtractor
	blobs      blob.Store
	index      Indexer
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a Coordinator. Without a Dispatcher, enrichment runs in-process
// on a background goroutine.
func New(cfg Config, deps Deps, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if cfg.TagsLimit <= 0 {
		cfg.TagsLimit = DefaultTagsLimit
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = DefaultEnrichTimeout
	}
	c := &Coordinator{
		cfg:        cfg,
		docs:       deps.Documents,
		analyzer:   deps.Analyzer,
		graph:      deps.Graph,
		text:       deps.Text,
		blobs:      deps.Blobs,
		index:      deps.Index,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        time.Now,
	}
	if c.dispatcher == nil {
		c.dispatcher = NewInlineDispatcher(c, cfg.EnrichTimeout, logger.Named("inline"))
	}
	return c
}

// Dispatcher returns the dispatcher used for enrichment jobs.
func (c *Coordinator) Dispatcher() Dispatcher { return c.dispatcher }

// UploadInput is one user submission. Content and Data may both be set; the
// uploaded file's text is used only when Content is blank.
type UploadInput struct {
	OwnerID     string
	Title       string
	Content     string
	ContentType string
	Domain      string
	FileName    string
	MimeType    string
	Data        []byte
}

// Upload stores the document with its raw text and queues enrichment. The
// returned document always has an id; AI fields are filled in later.
func (c *Coordinator) Upload(ctx context.Context, in UploadInput) (models.Document, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return models.Document{}, ErrOwnerRequired
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Data) > 0 && c.text != nil {
		content = c.text.Extract(ctx, in.Data, in.MimeType)
	}
	if content == "" && len(in.Data) == 0 {
		return models.Document{}, ErrEmptyDocument
	}

	doc := models.Document{
		OwnerID:     in.OwnerID,
		Title:       documentTitle(in),
		Content:     extract.Truncate(content, c.cfg.MaxContentChars),
		ContentType: in.ContentType,
		Domain:      in.Domain,
		Status:      models.DocumentStatusProcessing,
	}
	if doc.ContentType == "" {
		doc.ContentType = "text"
		if len(in.Data) > 0 {
			doc.ContentType = "file"
		}
	}
	if doc.Domain == "" {
		doc.Domain = "general"
	}
	if len(in.Data) > 0 {
		size := int64(len(in.Data))
		doc.FileSize = &size
		if in.MimeType != "" {
			mt := in.MimeType
			doc.FileType = &mt
		}
		if c.blobs != nil {
			u, err := c.blobs.Put(ctx, in.Data, in.OwnerID+"/"+in.FileName)
			if err != nil {
				c.logger.Warn("blob store failed; continuing with text only",
					zap.String("owner_id", in.OwnerID), zap.String("file", in.FileName), zap.Error(err))
			} else {
				doc.FileURL = &u
			}
		}
	}

	created, err := c.docs.CreateDocument(ctx, doc)
	if err != nil {
		return models.Document{}, fmt.Errorf("create document: %w", err)
	}
	recordUpload(ctx, created.ContentType)
	if err := c.dispatcher.Dispatch(ctx, Job{DocumentID: created.ID, OwnerID: created.OwnerID, Reason: ReasonUpload}); err != nil {
		c.logger.Warn("enrichment dispatch failed; the sweep will retry",
			zap.String("document_id", created.ID), zap.Error(err))
	}
	return created, nil
}

func documentTitle(in UploadInput) string {
	if t := strings.TrimSpace(in.Title); t != "" {
		return t
	}
	if n := strings.TrimSpace(in.FileName); n != "" {
		return n
	}
	return untitled
}

// graphTitle maps the display placeholder back to an empty title so untitled
// documents get their own id-derived graph node.
func graphTitle(title string) string {
	if title == untitled {
		return ""
	}
	return title
}

// Enrich derives summary, entities, key points, tags and embedding for a stored
// document and merges its entities into the graph. The graph merge starts as
// soon as entities are known and does not wait for the other extractions.
// Re-running overwrites every derived field.
func (c *Coordinator) Enrich(ctx context.Context, ownerID, docID string) (err error) {
	ctx, span := otel.Tracer("mindgraph/ingest").Start(ctx, "ingest.Enrich")
	span.SetAttributes(attribute.String("document_id", docID))
	start := c.now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		recordEnrich(ctx, c.now().Sub(start), err == nil)
		span.End()
	}()

	doc, ok, err := c.docs.GetDocument(ctx, ownerID, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return fmt.Errorf("document %s: %w", docID, store.ErrNotFound)
	}

	var (
		text      = doc.Content
		summary   string
		entities  = []extract.TypedEntity{}
		keyPoints = []string{}
		vector    []float64
	)
	if strings.TrimSpace(text) != "" {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			s, err := c.analyzer.Summarize(gctx, text)
			if err != nil {
				c.logger.Warn("summary failed", zap.String("document_id", docID), zap.Error(err))
				return nil
			}
			summary = s
			return nil
		})
		g.Go(func() error {
			entities = c.analyzer.ExtractTypedEntities(gctx, text)
			if c.graph != nil {
				c.graph.MergeDocument(gctx, ownerID, docID, graphTitle(doc.Title), entities)
			}
			return nil
		})
		g.Go(func() error {
			keyPoints = c.analyzer.ExtractKeyPoints(gctx, text)
			return nil
		})
		g.Go(func() error {
			vector = embedding.Embed(text)
			return nil
		})
		_ = g.Wait()
	} else {
		vector = embedding.Embed(text)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	names := entityNames(entities)
	patch := models.DocumentPatch{
		Entities:  jsonString(names),
		KeyPoints: jsonString(keyPoints),
		Tags:      jsonString(topTags(names, c.cfg.TagsLimit)),
		Embedding: ptr(embedding.Marshal(vector)),
		Status:    ptr(models.DocumentStatusReady),
	}
	if summary != "" {
		patch.Summary = &summary
	}
	if err := c.docs.UpdateDocument(ctx, ownerID, docID, patch); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	span.SetAttributes(attribute.Int("entities", len(entities)))
	c.logger.Info("document enriched",
		zap.String("document_id", docID), zap.Int("entities", len(entities)), zap.Int("key_points", len(keyPoints)))

	if c.index != nil {
		c.reindex(ctx, ownerID, docID)
	}
	return nil
}

func (c *Coordinator) reindex(ctx context.Context, ownerID, docID string) {
	doc, ok, err := c.docs.GetDocument(ctx, ownerID, docID)
	if err != nil || !ok {
		c.logger.Warn("reload for indexing failed", zap.String("document_id", docID), zap.Error(err))
		return
	}
	if err := c.index.Put(doc); err != nil {
		c.logger.Warn("search index update failed", zap.String("document_id", docID), zap.Error(err))
	}
}

// MarkFailed flags a document whose enrichment was abandoned.
func (c *Coordinator) MarkFailed(ctx context.Context, ownerID, docID string) error {
	status := models.DocumentStatusFailed
	return c.docs.UpdateDocument(ctx, ownerID, docID, models.DocumentPatch{Status: &status})
}

// Reprocess resets a document to processing and queues enrichment again.
func (c *Coordinator) Reprocess(ctx context.Context, ownerID, docID string) error {
	if _, ok, err := c.docs.GetDocument(ctx, ownerID, docID); err != nil {
		return err
	} else if !ok {
		return store.ErrNotFound
	}
	status := models.DocumentStatusProcessing
	if err := c.docs.UpdateDocument(ctx, ownerID, docID, models.DocumentPatch{Status: &status}); err != nil {
		return err
	}
	return c.dispatcher.Dispatch(ctx, Job{DocumentID: docID, OwnerID: ownerID, Reason: ReasonReprocess})
}

// Sweep re-dispatches documents still processing after olderThan. It returns
// how many jobs were queued.
func (c *Coordinator) Sweep(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := c.docs.ListStaleProcessing(ctx, c.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range stale {
		if err := c.dispatcher.Dispatch(ctx, Job{DocumentID: d.ID, OwnerID: d.OwnerID, Reason: ReasonSweep}); err != nil {
			c.logger.Warn("sweep dispatch failed", zap.String("document_id", d.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func entityNames(entities []extract.TypedEntity) []string {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return names
}

// topTags keeps the first n distinct names.
func topTags(names []string, n int) []string {
	seen := make(map[string]struct{}, n)
	tags := make([]string, 0, n)
	for _, name := range names {
		if len(tags) == n {
			break
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, name)
	}
	return tags
}

func jsonString(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func ptr[T any](v T) *T { return &v }
