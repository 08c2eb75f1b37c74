// Package search keeps a bleve full-text index of enriched documents.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"
	"github.com/mohammad-safakhou/mindgraph/models"
)

const (
	fieldOwner   = "owner_id"
	fieldTitle   = "title"
	fieldSummary = "summary"
	fieldContent = "content"
	fieldTags    = "tags"

	defaultLimit = 20
	maxLimit     = 100
)

// Hit is one matching document.
type Hit struct {
	ID        string              `json:"id"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"`
}

// Index wraps a bleve index. The zero value is not usable; call Open.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

// Open opens or creates the on-disk index at path. An empty path keeps the
// index in memory.
func Open(path string) (*Index, error) {
	m := newMapping()
	if strings.TrimSpace(path) == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, err
		}
		return &Index{index: idx}, nil
	}
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

func newMapping() mapping.IndexMapping {
	owner := bleve.NewTextFieldMapping()
	owner.Analyzer = keyword.Name
	owner.IncludeInAll = false

	text := bleve.NewTextFieldMapping()
	text.Store = false

	stored := bleve.NewTextFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldOwner, owner)
	doc.AddFieldMappingsAt(fieldTitle, stored)
	doc.AddFieldMappingsAt(fieldSummary, stored)
	doc.AddFieldMappingsAt(fieldContent, text)
	doc.AddFieldMappingsAt(fieldTags, stored)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Put indexes (or reindexes) d.
func (i *Index) Put(d models.Document) error {
	fields := map[string]interface{}{
		fieldOwner:   d.OwnerID,
		fieldTitle:   d.Title,
		fieldContent: d.Content,
	}
	if d.Summary != nil {
		fields[fieldSummary] = *d.Summary
	}
	if d.Tags != nil {
		var tags []string
		if err := json.Unmarshal([]byte(*d.Tags), &tags); err == nil {
			fields[fieldTags] = strings.Join(tags, " ")
		}
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.index.Index(d.ID, fields)
}

// Delete drops a document from the index.
func (i *Index) Delete(id string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.index.Delete(id)
}

// Search matches q against title, summary, tags and content of ownerID's
// documents. Titles weigh double.
func (i *Index) Search(ctx context.Context, ownerID, q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" || ownerID == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	title := bleve.NewMatchQuery(q)
	title.SetField(fieldTitle)
	title.SetBoost(2)
	summary := bleve.NewMatchQuery(q)
	summary.SetField(fieldSummary)
	tags := bleve.NewMatchQuery(q)
	tags.SetField(fieldTags)
	content := bleve.NewMatchQuery(q)
	content.SetField(fieldContent)
	text := bleve.NewDisjunctionQuery(title, summary, tags, content)

	owner := bleve.NewTermQuery(ownerID)
	owner.SetField(fieldOwner)

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(owner, text), limit, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField(fieldTitle)
	req.Highlight.AddField(fieldSummary)

	i.mu.RLock()
	res, err := i.index.SearchInContext(ctx, req)
	i.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, Hit{ID: h.ID, Score: h.Score, Fragments: h.Fragments})
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.index.DocCount()
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
