package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mohammad-safakhou/mindgraph/internal/extract"
	"github.com/mohammad-safakhou/mindgraph/internal/graph"
	"github.com/mohammad-safakhou/mindgraph/internal/search"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"github.com/mohammad-safakhou/mindgraph/internal/store/memory"
	"github.com/mohammad-safakhou/mindgraph/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeAnalyzer struct {
	summary    string
	summaryErr error
	entities   []extract.TypedEntity
	keyPoints  []string

	mu    sync.Mutex
	texts []string
}

func (f *fakeAnalyzer) Summarize(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return f.summary, f.summaryErr
}

func (f *fakeAnalyzer) ExtractTypedEntities(ctx context.Context, text string) []extract.TypedEntity {
	return f.entities
}

func (f *fakeAnalyzer) ExtractKeyPoints(ctx context.Context, text string) []string {
	return f.keyPoints
}

type recorder struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (r *recorder) Dispatch(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.err
}

type failingBlobs struct{}

func (failingBlobs) Put(ctx context.Context, data []byte, pathHint string) (string, error) {
	return "", errors.New("disk full")
}

type staticText string

func (s staticText) Extract(ctx context.Context, data []byte, mimeType string) string { return string(s) }

func newCoordinator(t *testing.T, a Analyzer, d Dispatcher) (*Coordinator, *memory.Store) {
	t.Helper()
	st := memory.New()
	c := New(Config{}, Deps{
		Documents:  st,
		Analyzer:   a,
		Graph:      graph.NewBuilder(st, nil, nil),
		Dispatcher: d,
	}, nil)
	return c, st
}

func TestUploadStoresRawContentAndDispatches(t *testing.T) {
	rec := &recorder{}
	c, st := newCoordinator(t, &fakeAnalyzer{}, rec)

	doc, err := c.Upload(context.Background(), UploadInput{OwnerID: "u1", Title: "Notes", Content: "  Graph theory basics  "})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.ID == "" || doc.Status != models.DocumentStatusProcessing || doc.Summary != nil {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Content != "Graph theory basics" || doc.ContentType != "text" || doc.Domain != "general" {
		t.Fatalf("unexpected defaults %+v", doc)
	}
	if len(rec.jobs) != 1 || rec.jobs[0] != (Job{DocumentID: doc.ID, OwnerID: "u1", Reason: ReasonUpload}) {
		t.Fatalf("unexpected jobs %+v", rec.jobs)
	}
	if _, ok, _ := st.GetDocument(context.Background(), "u1", doc.ID); !ok {
		t.Fatalf("document was not stored")
	}
}

func TestUploadCapsContent(t *testing.T) {
	c, _ := newCoordinator(t, &fakeAnalyzer{}, &recorder{})
	long := strings.Repeat("é", DefaultMaxContentChars+50)
	doc, err := c.Upload(context.Background(), UploadInput{OwnerID: "u1", Content: long})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if n := utf8.RuneCountInString(doc.Content); n != DefaultMaxContentChars {
		t.Fatalf("expected content capped at %d runes, got %d", DefaultMaxContentChars, n)
	}
	if doc.Title != untitled {
		t.Fatalf("expected fallback title, got %q", doc.Title)
	}
}

func TestUploadFileSurvivesBlobFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	st := memory.New()
	rec := &recorder{err: errors.New("redis down")}
	c := New(Config{}, Deps{
		Documents:  st,
		Analyzer:   &fakeAnalyzer{},
		Text:       staticText("scanned text"),
		Blobs:      failingBlobs{},
		Dispatcher: rec,
	}, zap.New(core))

	doc, err := c.Upload(context.Background(), UploadInput{OwnerID: "u1", FileName: "scan.png", MimeType: "image/png", Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.FileURL != nil {
		t.Fatalf("expected nil file url after blob failure, got %v", *doc.FileURL)
	}
	if doc.Content != "scanned text" || doc.Title != "scan.png" || doc.ContentType != "file" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.FileSize == nil || *doc.FileSize != 3 || doc.FileType == nil || *doc.FileType != "image/png" {
		t.Fatalf("unexpected file metadata %+v", doc)
	}
	if logs.FilterMessage("blob store failed; continuing with text only").Len() != 1 {
		t.Fatalf("expected blob failure to be logged")
	}
	if logs.FilterMessage("enrichment dispatch failed; the sweep will retry").Len() != 1 {
		t.Fatalf("expected dispatch failure to be logged")
	}
}

func TestUploadRejectsEmpty(t *testing.T) {
	c, _ := newCoordinator(t, &fakeAnalyzer{}, &recorder{})
	if _, err := c.Upload(context.Background(), UploadInput{OwnerID: "u1", Content: "   "}); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if _, err := c.Upload(context.Background(), UploadInput{Content: "x"}); err == nil {
		t.Fatalf("expected owner to be required")
	}
}

func TestEnrichFillsFieldsAndGraph(t *testing.T) {
	a := &fakeAnalyzer{
		summary:   "A short summary.",
		entities:  []extract.TypedEntity{{Name: "Graph Theory", Type: "concept"}, {Name: "Euler", Type: "entity"}, {Name: "euler", Type: "entity"}},
		keyPoints: []string{"Bridges", "Paths"},
	}
	c, st := newCoordinator(t, a, &recorder{})
	idx, err := search.Open("")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer idx.Close()
	c.index = idx

	ctx := context.Background()
	doc, _ := c.Upload(ctx, UploadInput{OwnerID: "u1", Title: "Bridges", Content: "Euler and graph theory."})
	if err := c.Enrich(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	got, _, _ := st.GetDocument(ctx, "u1", doc.ID)
	if got.Status != models.DocumentStatusReady || got.Summary == nil || *got.Summary != "A short summary." {
		t.Fatalf("unexpected enriched document %+v", got)
	}
	var names, tags, points []string
	_ = json.Unmarshal([]byte(*got.Entities), &names)
	_ = json.Unmarshal([]byte(*got.Tags), &tags)
	_ = json.Unmarshal([]byte(*got.KeyPoints), &points)
	if len(names) != 3 || len(tags) != 2 || len(points) != 2 {
		t.Fatalf("unexpected derived fields names=%v tags=%v points=%v", names, tags, points)
	}
	var vec []float64
	if err := json.Unmarshal([]byte(*got.Embedding), &vec); err != nil || len(vec) != 128 {
		t.Fatalf("unexpected embedding %v %v", len(vec), err)
	}
	if _, ok, _ := st.FindNodeByLabel(ctx, "u1", "Graph Theory"); !ok {
		t.Fatalf("expected graph node for extracted entity")
	}
	if _, ok, _ := st.FindNodeByLabel(ctx, "u1", "Bridges"); !ok {
		t.Fatalf("expected document node")
	}
	if hits, _ := idx.Search(ctx, "u1", "summary", 10); len(hits) != 1 || hits[0].ID != doc.ID {
		t.Fatalf("expected enriched document in search index, got %+v", hits)
	}
}

func TestEnrichUntitledDocumentsGetOwnNodes(t *testing.T) {
	a := &fakeAnalyzer{}
	c, st := newCoordinator(t, a, &recorder{})
	ctx := context.Background()

	first, _ := c.Upload(ctx, UploadInput{OwnerID: "u1", Content: "Alpha notes"})
	second, _ := c.Upload(ctx, UploadInput{OwnerID: "u1", Content: "Beta notes"})
	if first.Title != untitled || second.Title != untitled {
		t.Fatalf("expected placeholder titles, got %q %q", first.Title, second.Title)
	}
	a.entities = []extract.TypedEntity{{Name: "Alpha", Type: "entity"}}
	if err := c.Enrich(ctx, "u1", first.ID); err != nil {
		t.Fatalf("Enrich first: %v", err)
	}
	a.entities = []extract.TypedEntity{{Name: "Beta", Type: "entity"}}
	if err := c.Enrich(ctx, "u1", second.ID); err != nil {
		t.Fatalf("Enrich second: %v", err)
	}

	if _, ok, _ := st.FindNodeByLabel(ctx, "u1", untitled); ok {
		t.Fatalf("placeholder title must not become a shared graph node")
	}
	firstNode, ok, _ := st.FindNodeByLabel(ctx, "u1", graph.DocumentLabel(first.ID, ""))
	if !ok {
		t.Fatalf("expected id-derived node for first document")
	}
	secondNode, ok, _ := st.FindNodeByLabel(ctx, "u1", graph.DocumentLabel(second.ID, ""))
	if !ok || secondNode.ID == firstNode.ID {
		t.Fatalf("expected a separate node for second document")
	}
	beta, _, _ := st.FindNodeByLabel(ctx, "u1", "Beta")
	if len(beta.Connections) != 1 || beta.Connections[0] != secondNode.ID {
		t.Fatalf("Beta should point only at its own document, got %v", beta.Connections)
	}
}

func TestEnrichSurvivesSummaryFailure(t *testing.T) {
	a := &fakeAnalyzer{summaryErr: errors.New("service unavailable")}
	c, st := newCoordinator(t, a, &recorder{})
	ctx := context.Background()
	doc, _ := c.Upload(ctx, UploadInput{OwnerID: "u1", Content: "text"})
	if err := c.Enrich(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	got, _, _ := st.GetDocument(ctx, "u1", doc.ID)
	if got.Summary != nil || got.Status != models.DocumentStatusReady || *got.Entities != "[]" {
		t.Fatalf("expected degraded enrichment, got %+v", got)
	}
}

func TestEnrichIsScopedToOwner(t *testing.T) {
	c, _ := newCoordinator(t, &fakeAnalyzer{}, &recorder{})
	doc, _ := c.Upload(context.Background(), UploadInput{OwnerID: "u1", Content: "text"})
	if err := c.Enrich(context.Background(), "u2", doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another owner, got %v", err)
	}
}

func TestEnrichTruncatesBeforeExtraction(t *testing.T) {
	a := &fakeAnalyzer{}
	c, _ := newCoordinator(t, a, &recorder{})
	c.cfg.MaxContentChars = 10
	doc, _ := c.Upload(context.Background(), UploadInput{OwnerID: "u1", Content: strings.Repeat("a", 50)})
	_ = c.Enrich(context.Background(), "u1", doc.ID)
	if len(a.texts) != 1 || len(a.texts[0]) != 10 {
		t.Fatalf("expected stored capped text to be analysed, got %v", a.texts)
	}
}

func TestReprocessAndSweep(t *testing.T) {
	rec := &recorder{}
	c, st := newCoordinator(t, &fakeAnalyzer{}, rec)
	ctx := context.Background()
	doc, _ := c.Upload(ctx, UploadInput{OwnerID: "u1", Content: "text"})
	_ = c.Enrich(ctx, "u1", doc.ID)

	if err := c.Reprocess(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	got, _, _ := st.GetDocument(ctx, "u1", doc.ID)
	if got.Status != models.DocumentStatusProcessing {
		t.Fatalf("expected processing after reprocess, got %s", got.Status)
	}
	if last := rec.jobs[len(rec.jobs)-1]; last.Reason != ReasonReprocess {
		t.Fatalf("unexpected job %+v", last)
	}
	if err := c.Reprocess(ctx, "u2", doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	n, err := c.Sweep(ctx, time.Minute, 10)
	if err != nil || n != 0 {
		t.Fatalf("fresh documents must not be swept: n=%d err=%v", n, err)
	}
	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = c.Sweep(ctx, time.Minute, 10)
	if err != nil || n != 1 {
		t.Fatalf("expected one swept document: n=%d err=%v", n, err)
	}
	if last := rec.jobs[len(rec.jobs)-1]; last.Reason != ReasonSweep || last.DocumentID != doc.ID {
		t.Fatalf("unexpected sweep job %+v", last)
	}
}

func TestMarkFailed(t *testing.T) {
	c, st := newCoordinator(t, &fakeAnalyzer{}, &recorder{})
	doc, _ := c.Upload(context.Background(), UploadInput{OwnerID: "u1", Content: "text"})
	if err := c.MarkFailed(context.Background(), "u1", doc.ID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _, _ := st.GetDocument(context.Background(), "u1", doc.ID)
	if got.Status != models.DocumentStatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
}

func TestInlineDispatcherRunsDetached(t *testing.T) {
	a := &fakeAnalyzer{summary: "done"}
	st := memory.New()
	c := New(Config{}, Deps{Documents: st, Analyzer: a}, nil)
	inline, ok := c.Dispatcher().(*InlineDispatcher)
	if !ok {
		t.Fatalf("expected inline dispatcher by default, got %T", c.Dispatcher())
	}

	ctx, cancel := context.WithCancel(context.Background())
	doc, err := c.Upload(ctx, UploadInput{OwnerID: "u1", Content: "text"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	cancel()
	inline.Wait()

	got, _, _ := st.GetDocument(context.Background(), "u1", doc.ID)
	if got.Status != models.DocumentStatusReady || got.Summary == nil {
		t.Fatalf("expected enrichment to finish after request cancellation, got %+v", got)
	}
}

func TestTopTags(t *testing.T) {
	got := topTags([]string{"A", "b", "a", "C", "D", "E", "F"}, 5)
	if strings.Join(got, ",") != "A,b,C,D,E" {
		t.Fatalf("unexpected tags %v", got)
	}
}
