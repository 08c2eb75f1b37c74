package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/mindgraph/internal/extract"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Builder applies a document's entities to the owner's graph.
type Builder struct {
	repo   Repository
	locker Locker
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder returns a Builder. A nil locker falls back to an in-process
// KeyedMutex; a nil logger disables logging.
func NewBuilder(repo Repository, locker Locker, logger *zap.Logger) *Builder {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{repo: repo, locker: locker, logger: logger, now: time.Now}
}

// MergeDocument merges entities and logs any failure. Enrichment callers never
// see graph errors.
func (b *Builder) MergeDocument(ctx context.Context, ownerID, docID, title string, entities []extract.TypedEntity) {
	if err := b.Merge(ctx, ownerID, docID, title, entities); err != nil {
		b.logger.Error("graph merge failed",
			zap.String("owner_id", ownerID), zap.String("document_id", docID), zap.Error(err))
	}
}

// Merge upserts one node per entity, finds or creates the document node and
// unions co-occurrence connections onto every entity node. Mutation is
// serialised per owner. Each node write is independent, so a cancelled
// context only skips entities not yet processed.
func (b *Builder) Merge(ctx context.Context, ownerID, docID, title string, entities []extract.TypedEntity) (err error) {
	if ownerID == "" {
		return fmt.Errorf("graph: owner id required")
	}
	if len(entities) == 0 {
		return nil
	}
	start := b.now()
	ctx, span := otel.Tracer("mindgraph/graph").Start(ctx, "graph.Merge")
	span.SetAttributes(attribute.String("document_id", docID), attribute.Int("entities", len(entities)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		recordMergeDuration(ctx, time.Since(start), err == nil)
	}()

	unlock, err := b.locker.Lock(ctx, "graph:"+ownerID)
	if err != nil {
		return fmt.Errorf("lock owner graph: %w", err)
	}
	defer unlock()

	labels := make([]string, 0, len(entities))
	for _, ent := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.upsertEntity(ctx, ownerID, ent); err != nil {
			return fmt.Errorf("upsert %q: %w", ent.Name, err)
		}
		labels = append(labels, ent.Name)
	}

	nodes, err := b.repo.FindNodesByLabels(ctx, ownerID, labels)
	if err != nil {
		return fmt.Errorf("load document entities: %w", err)
	}

	docNode, err := b.documentNode(ctx, ownerID, docID, title, nodes)
	if err != nil {
		return err
	}

	targets := make([]string, 0, len(nodes)+1)
	for _, n := range nodes {
		targets = append(targets, n.ID)
	}
	targets = append(targets, docNode.ID)
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		merged, changed := unionConnections(n.ID, n.Connections, targets)
		if !changed {
			continue
		}
		if _, err := b.repo.UpdateNode(ctx, n.ID, NodePatch{Connections: merged}); err != nil {
			return fmt.Errorf("connect %q: %w", n.Label, err)
		}
	}
	return nil
}

func (b *Builder) upsertEntity(ctx context.Context, ownerID string, ent extract.TypedEntity) error {
	observed := nodeTypeOf(ent.Type)
	existing, ok, err := b.repo.FindNodeByLabel(ctx, ownerID, ent.Name)
	if err != nil {
		return err
	}
	if !ok {
		now := b.now()
		_, err := b.repo.CreateNode(ctx, Node{
			OwnerID:     ownerID,
			Label:       ent.Name,
			Type:        observed,
			Strength:    initialStrength,
			Connections: []string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err == nil {
			recordNodeCreated(ctx, observed)
		}
		return err
	}
	strength := existing.Strength + mentionIncrement
	patch := NodePatch{Strength: &strength}
	if upgraded := upgradeType(existing.Type, observed); upgraded != existing.Type {
		patch.Type = &upgraded
	}
	_, err = b.repo.UpdateNode(ctx, existing.ID, patch)
	return err
}

// documentNode finds or creates the node representing the document. An
// existing document node is returned untouched: its connections reflect the
// entities of the document that created it.
func (b *Builder) documentNode(ctx context.Context, ownerID, docID, title string, entities []Node) (Node, error) {
	label := DocumentLabel(docID, title)
	existing, ok, err := b.repo.FindNodeByLabel(ctx, ownerID, label)
	if err != nil {
		return Node{}, fmt.Errorf("find document node: %w", err)
	}
	if ok {
		return existing, nil
	}
	conns := make([]string, 0, len(entities))
	for _, n := range entities {
		conns = append(conns, n.ID)
	}
	now := b.now()
	created, err := b.repo.CreateNode(ctx, Node{
		OwnerID:     ownerID,
		Label:       label,
		Type:        NodeTypeDocument,
		Strength:    documentStrength,
		Connections: conns,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Node{}, fmt.Errorf("create document node: %w", err)
	}
	recordNodeCreated(ctx, NodeTypeDocument)
	return created, nil
}

// DocumentLabel is the label of a document's node: its title, or
// "Document <first 8 characters of id>" when the title is blank.
func DocumentLabel(docID, title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	short := docID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Document " + short
}

// unionConnections appends every id in add that is not already present and
// is not self. Existing order is kept.
func unionConnections(self string, existing, add []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, id := range existing {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	changed := len(out) != len(existing)
	for _, id := range add {
		if id == "" || id == self {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		changed = true
	}
	return out, changed
}
