package graph_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/mohammad-safakhou/mindgraph/internal/extract"
	"github.com/mohammad-safakhou/mindgraph/internal/graph"
	"github.com/mohammad-safakhou/mindgraph/internal/store/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func ents(pairs ...string) []extract.TypedEntity {
	out := make([]extract.TypedEntity, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, extract.TypedEntity{Name: pairs[i], Type: extract.EntityType(pairs[i+1])})
	}
	return out
}

func mustNode(t *testing.T, repo graph.Repository, owner, label string) graph.Node {
	t.Helper()
	n, ok, err := repo.FindNodeByLabel(context.Background(), owner, label)
	if err != nil || !ok {
		t.Fatalf("node %q: ok=%v err=%v", label, ok, err)
	}
	return n
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func equalSet(a, b []string) bool {
	a, b = sorted(a), sorted(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMergeAccumulatesAcrossDocuments(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := graph.NewBuilder(repo, nil, nil)

	if err := b.Merge(ctx, "owner", "doc-1", "Paper One", ents("Graph Theory", "concept", "Euler", "entity")); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if err := b.Merge(ctx, "owner", "doc-2", "Paper Two", ents("Graph Theory", "entity", "Dijkstra", "entity")); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	gt := mustNode(t, repo, "owner", "Graph Theory")
	euler := mustNode(t, repo, "owner", "Euler")
	dijkstra := mustNode(t, repo, "owner", "Dijkstra")
	doc1 := mustNode(t, repo, "owner", "Paper One")
	doc2 := mustNode(t, repo, "owner", "Paper Two")

	if gt.Strength != 1.5 {
		t.Fatalf("expected strength 1.5, got %v", gt.Strength)
	}
	if gt.Type != graph.NodeTypeConcept {
		t.Fatalf("specific type must not be downgraded, got %s", gt.Type)
	}
	want := []string{euler.ID, dijkstra.ID, doc1.ID, doc2.ID}
	if !equalSet(gt.Connections, want) {
		t.Fatalf("unexpected connections %v want %v", gt.Connections, want)
	}
	if doc1.Type != graph.NodeTypeDocument || doc1.Strength != 2.0 {
		t.Fatalf("unexpected document node %+v", doc1)
	}
	if !equalSet(doc1.Connections, []string{gt.ID, euler.ID}) {
		t.Fatalf("unexpected document connections %v", doc1.Connections)
	}

	all, err := repo.ListNodes(ctx, "owner")
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(all))
	}
}

func TestMergeUpgradesGenericType(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := graph.NewBuilder(repo, nil, nil)

	_ = b.Merge(ctx, "owner", "d1", "T1", ents("Bridges", "entity"))
	_ = b.Merge(ctx, "owner", "d2", "T2", ents("Bridges", "idea"))
	if n := mustNode(t, repo, "owner", "Bridges"); n.Type != graph.NodeTypeIdea || n.Strength != 1.5 {
		t.Fatalf("expected upgrade to idea at 1.5, got %+v", n)
	}
	_ = b.Merge(ctx, "owner", "d3", "T3", ents("Bridges", "concept"))
	if n := mustNode(t, repo, "owner", "Bridges"); n.Type != graph.NodeTypeIdea || n.Strength != 2.0 {
		t.Fatalf("specific type must stay, got %+v", n)
	}
}

func TestMergeIsIdempotentOnExistenceAndConnections(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := graph.NewBuilder(repo, nil, nil)
	input := ents("A", "concept", "B", "idea", "C", "entity")

	for i := 0; i < 3; i++ {
		if err := b.Merge(ctx, "owner", "doc-1", "Doc", input); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}
	nodes, _ := repo.ListNodes(ctx, "owner")
	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes after repeated merges, got %d", len(nodes))
	}
	a := mustNode(t, repo, "owner", "A")
	if a.Strength != 2.0 {
		t.Fatalf("expected strength to keep accumulating, got %v", a.Strength)
	}
	if len(a.Connections) != 3 {
		t.Fatalf("expected connections to B, C and document, got %v", a.Connections)
	}
	for _, id := range a.Connections {
		if id == a.ID {
			t.Fatalf("node must not connect to itself")
		}
	}
}

func TestMergeKeepsDocumentNodeSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := graph.NewBuilder(repo, nil, nil)

	_ = b.Merge(ctx, "owner", "doc-1", "Shared Title", ents("A", "entity"))
	_ = b.Merge(ctx, "owner", "doc-2", "Shared Title", ents("B", "entity"))

	doc := mustNode(t, repo, "owner", "Shared Title")
	a := mustNode(t, repo, "owner", "A")
	bn := mustNode(t, repo, "owner", "B")
	if doc.Strength != 2.0 || !equalSet(doc.Connections, []string{a.ID}) {
		t.Fatalf("document node should keep its creation snapshot, got %+v", doc)
	}
	if !equalSet(bn.Connections, []string{doc.ID}) {
		t.Fatalf("entity should point at the document node, got %v", bn.Connections)
	}
}

func TestMergeIsolatesOwners(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := graph.NewBuilder(repo, nil, nil)

	_ = b.Merge(ctx, "alice", "d1", "Doc", ents("Graph Theory", "concept"))
	_ = b.Merge(ctx, "bob", "d2", "Doc", ents("Graph Theory", "concept"))

	alice := mustNode(t, repo, "alice", "Graph Theory")
	bob := mustNode(t, repo, "bob", "Graph Theory")
	if alice.ID == bob.ID || alice.Strength != 1.0 || bob.Strength != 1.0 {
		t.Fatalf("owners must not share nodes: %+v %+v", alice, bob)
	}
	aliceDoc := mustNode(t, repo, "alice", "Doc")
	if !equalSet(alice.Connections, []string{aliceDoc.ID}) {
		t.Fatalf("unexpected cross-owner connections %v", alice.Connections)
	}
}

func TestMergeDocumentLabelFallback(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := graph.NewBuilder(repo, nil, nil)

	_ = b.Merge(ctx, "owner", "0123456789abcdef", "  ", ents("A", "entity"))
	doc := mustNode(t, repo, "owner", "Document 01234567")
	if doc.Type != graph.NodeTypeDocument {
		t.Fatalf("unexpected fallback node %+v", doc)
	}
	if got := graph.DocumentLabel("abc", ""); got != "Document abc" {
		t.Fatalf("unexpected short id label %q", got)
	}
}

func TestMergeConcurrentSameOwner(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := graph.NewBuilder(repo, graph.NewKeyedMutex(), nil)

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			errs <- b.Merge(ctx, "owner", "doc", "Doc", ents("Shared", "entity"))
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("merge: %v", err)
		}
	}
	if got := mustNode(t, repo, "owner", "Shared").Strength; got != 1.0+0.5*(n-1) {
		t.Fatalf("lost strength increments: got %v", got)
	}
}

type failingRepo struct {
	graph.Repository
}

func (failingRepo) FindNodeByLabel(ctx context.Context, ownerID, label string) (graph.Node, bool, error) {
	return graph.Node{}, false, errors.New("store unavailable")
}

func TestMergeDocumentSwallowsErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	b := graph.NewBuilder(failingRepo{}, nil, zap.New(core))

	b.MergeDocument(context.Background(), "owner", "doc", "Doc", ents("A", "entity"))

	entries := logs.FilterMessage("graph merge failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged failure, got %d", len(entries))
	}
	if entries[0].ContextMap()["document_id"] != "doc" {
		t.Fatalf("unexpected log fields %v", entries[0].ContextMap())
	}
}

func TestMergeStopsOnCancelledContext(t *testing.T) {
	repo := memory.New()
	b := graph.NewBuilder(repo, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Merge(ctx, "owner", "doc", "Doc", ents("A", "entity")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok, _ := repo.FindNodeByLabel(context.Background(), "owner", "A"); ok {
		t.Fatalf("no node should be written after cancellation")
	}
}
