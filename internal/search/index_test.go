package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/mindgraph/models"
)

func str(s string) *string { return &s }

func seed(t *testing.T, idx *Index) {
	t.Helper()
	docs := []models.Document{
		{ID: "a1", OwnerID: "alice", Title: "Euler and the bridges", Content: "Seven bridges of Königsberg.", Summary: str("Origins of graph theory.")},
		{ID: "a2", OwnerID: "alice", Title: "Cooking notes", Content: "Bread needs time.", Tags: str(`["baking","bread"]`)},
		{ID: "b1", OwnerID: "bob", Title: "Bridges everywhere", Content: "Graph theory for bob."},
	}
	for _, d := range docs {
		if err := idx.Put(d); err != nil {
			t.Fatalf("Put %s: %v", d.ID, err)
		}
	}
}

func TestSearchScopesByOwner(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()
	seed(t, idx)

	hits, err := idx.Search(context.Background(), "alice", "bridges", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a1" {
		t.Fatalf("expected only alice's doc, got %+v", hits)
	}
	hits, _ = idx.Search(context.Background(), "alice", "graph", 10)
	if len(hits) != 1 || hits[0].ID != "a1" {
		t.Fatalf("expected summary match, got %+v", hits)
	}
	hits, _ = idx.Search(context.Background(), "alice", "baking", 10)
	if len(hits) != 1 || hits[0].ID != "a2" {
		t.Fatalf("expected tag match, got %+v", hits)
	}
	if hits, _ := idx.Search(context.Background(), "alice", "   ", 10); len(hits) != 0 {
		t.Fatalf("blank query should match nothing")
	}
}

func TestPutReindexesAndDelete(t *testing.T) {
	idx, _ := Open("")
	defer idx.Close()
	seed(t, idx)

	if err := idx.Put(models.Document{ID: "a2", OwnerID: "alice", Title: "Sourdough", Content: "Starter."}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if hits, _ := idx.Search(context.Background(), "alice", "baking", 10); len(hits) != 0 {
		t.Fatalf("stale tags still indexed: %+v", hits)
	}
	if err := idx.Delete("a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := idx.Count(); n != 2 {
		t.Fatalf("expected 2 docs, got %d", n)
	}
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.bleve")
	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seed(t, idx)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	idx, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	if n, _ := idx.Count(); n != 3 {
		t.Fatalf("expected persisted docs, got %d", n)
	}
}
