package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/mindgraph/internal/graph"
)

const nodeColumns = `id, owner_id, label, type, description, strength, connections, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (graph.Node, error) {
	var n graph.Node
	err := row.Scan(&n.ID, &n.OwnerID, &n.Label, &n.Type, &n.Description, &n.Strength,
		pq.Array(&n.Connections), &n.CreatedAt, &n.UpdatedAt)
	if n.Connections == nil {
		n.Connections = []string{}
	}
	return n, err
}

// FindNodeByLabel returns the owner's node with the given label.
func (s *Store) FindNodeByLabel(ctx context.Context, ownerID, label string) (graph.Node, bool, error) {
	n, err := scanNode(s.DB.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM knowledge_nodes WHERE owner_id=$1 AND label=$2`, ownerID, label))
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Node{}, false, nil
	}
	if err != nil {
		return graph.Node{}, false, err
	}
	return n, true, nil
}

// CreateNode inserts a node. If (owner_id, label) already exists the stored
// row is returned unchanged instead of creating a duplicate.
func (s *Store) CreateNode(ctx context.Context, n graph.Node) (graph.Node, error) {
	conns := n.Connections
	if conns == nil {
		conns = []string{}
	}
	return scanNode(s.DB.QueryRowContext(ctx, `
INSERT INTO knowledge_nodes (owner_id, label, type, description, strength, connections)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (owner_id, label) DO UPDATE SET updated_at=knowledge_nodes.updated_at
RETURNING `+nodeColumns,
		n.OwnerID, n.Label, string(n.Type), n.Description, n.Strength, pq.Array(conns)))
}

// UpdateNode overwrites the non-nil fields of patch.
func (s *Store) UpdateNode(ctx context.Context, id string, patch graph.NodePatch) (graph.Node, error) {
	var typ, desc, strength, conns any
	if patch.Type != nil {
		typ = string(*patch.Type)
	}
	if patch.Description != nil {
		desc = *patch.Description
	}
	if patch.Strength != nil {
		strength = *patch.Strength
	}
	if patch.Connections != nil {
		conns = pq.Array(patch.Connections)
	}
	n, err := scanNode(s.DB.QueryRowContext(ctx, `
UPDATE knowledge_nodes
SET type=COALESCE($2, type),
    description=COALESCE($3, description),
    strength=COALESCE($4, strength),
    connections=COALESCE($5, connections),
    updated_at=NOW()
WHERE id=$1
RETURNING `+nodeColumns,
		id, typ, desc, strength, conns))
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Node{}, ErrNotFound
	}
	return n, err
}

// FindNodesByLabels returns the owner's nodes whose label is in labels.
func (s *Store) FindNodesByLabels(ctx context.Context, ownerID string, labels []string) ([]graph.Node, error) {
	if len(labels) == 0 {
		return []graph.Node{}, nil
	}
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM knowledge_nodes WHERE owner_id=$1 AND label = ANY($2) ORDER BY created_at, id`,
		ownerID, pq.Array(labels))
}

// ListNodes returns every node owned by ownerID, strongest first.
func (s *Store) ListNodes(ctx context.Context, ownerID string) ([]graph.Node, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM knowledge_nodes WHERE owner_id=$1 ORDER BY strength DESC, label`,
		ownerID)
}

// GetNode returns one node scoped to its owner.
func (s *Store) GetNode(ctx context.Context, ownerID, id string) (graph.Node, bool, error) {
	n, err := scanNode(s.DB.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM knowledge_nodes WHERE owner_id=$1 AND id=$2`, ownerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Node{}, false, nil
	}
	if err != nil {
		return graph.Node{}, false, err
	}
	return n, true, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]graph.Node, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []graph.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
