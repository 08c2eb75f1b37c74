package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/mindgraph/internal/graph"
)

// NodeReader is the read side of the node repository.
type NodeReader interface {
	ListNodes(ctx context.Context, ownerID string) ([]graph.Node, error)
	GetNode(ctx context.Context, ownerID, id string) (graph.Node, bool, error)
}

type GraphHandler struct {
	Nodes NodeReader
}

func (h *GraphHandler) Register(g *echo.Group) {
	g.GET("", h.full)
	g.GET("/nodes/:id", h.node)
}

// full returns every node of the caller. Edges point from a node to each of
// its connections; dangling ids are skipped.
func (h *GraphHandler) full(c echo.Context) error {
	nodes, err := h.Nodes.ListNodes(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}
	edges := make([]GraphEdge, 0)
	for _, n := range nodes {
		for _, target := range n.Connections {
			if _, ok := known[target]; ok {
				edges = append(edges, GraphEdge{Source: n.ID, Target: target})
			}
		}
	}
	if nodes == nil {
		nodes = []graph.Node{}
	}
	return c.JSON(http.StatusOK, GraphResponse{Nodes: nodes, Edges: edges})
}

func (h *GraphHandler) node(c echo.Context) error {
	ctx := c.Request().Context()
	owner := userID(c)
	n, ok, err := h.Nodes.GetNode(ctx, owner, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "node not found")
	}
	neighbors := make([]graph.Node, 0, len(n.Connections))
	for _, id := range n.Connections {
		nb, ok, err := h.Nodes.GetNode(ctx, owner, id)
		if err != nil {
			return err
		}
		if ok {
			neighbors = append(neighbors, nb)
		}
	}
	return c.JSON(http.StatusOK, NodeDetailResponse{Node: n, Neighbors: neighbors})
}
