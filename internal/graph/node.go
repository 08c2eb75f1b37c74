// Package graph merges extracted entities into a per-owner knowledge graph.
// Entities become nodes deduplicated by label; co-occurrence within a
// document becomes a connection.
package graph

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/mindgraph/internal/extract"
)

// NodeType classifies a knowledge node.
type NodeType string

const (
	NodeTypeConcept  NodeType = "concept"
	NodeTypeEntity   NodeType = "entity"
	NodeTypeIdea     NodeType = "idea"
	NodeTypeDocument NodeType = "document"
)

const (
	initialStrength  = 1.0
	mentionIncrement = 0.5
	documentStrength = 2.0
)

// Node is a deduplicated, strength-weighted vertex. Label is unique per owner.
type Node struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Label       string    `json:"label"`
	Type        NodeType  `json:"type"`
	Description string    `json:"description,omitempty"`
	Strength    float64   `json:"strength"`
	Connections []string  `json:"connections"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NodePatch lists the fields UpdateNode should overwrite; nil fields are kept.
type NodePatch struct {
	Type        *NodeType
	Description *string
	Strength    *float64
	Connections []string
}

// Repository is the node storage used by the builder. Implementations scope
// every lookup to the owner passed in.
type Repository interface {
	FindNodeByLabel(ctx context.Context, ownerID, label string) (Node, bool, error)
	CreateNode(ctx context.Context, n Node) (Node, error)
	UpdateNode(ctx context.Context, id string, patch NodePatch) (Node, error)
	FindNodesByLabels(ctx context.Context, ownerID string, labels []string) ([]Node, error)
}

func nodeTypeOf(t extract.EntityType) NodeType {
	switch t {
	case extract.EntityTypeConcept:
		return NodeTypeConcept
	case extract.EntityTypeIdea:
		return NodeTypeIdea
	default:
		return NodeTypeEntity
	}
}

// upgradeType returns the type to store when an existing node is observed
// again. Generic entities are refined to concept or idea; specific types are
// never downgraded.
func upgradeType(current, observed NodeType) NodeType {
	if current == NodeTypeEntity && (observed == NodeTypeConcept || observed == NodeTypeIdea) {
		return observed
	}
	return current
}
