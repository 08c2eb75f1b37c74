package server

import (
	"github.com/mohammad-safakhou/mindgraph/internal/graph"
	"github.com/mohammad-safakhou/mindgraph/internal/search"
	"github.com/mohammad-safakhou/mindgraph/models"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// CreateDocumentRequest is the JSON form of an upload. Multipart uploads use
// the same field names plus a "file" part.
type CreateDocumentRequest struct {
	Title       string `json:"title" form:"title"`
	Content     string `json:"content" form:"content"`
	ContentType string `json:"content_type" form:"content_type"`
	Domain      string `json:"domain" form:"domain"`
}

// DocumentListResponse is one page of documents.
type DocumentListResponse struct {
	Items  []models.Document `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// SearchResponse lists full-text hits.
type SearchResponse struct {
	Query string       `json:"query"`
	Hits  []search.Hit `json:"hits"`
}

// GraphResponse is an owner's full knowledge graph as nodes plus the edge
// list implied by their connections.
type GraphResponse struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []GraphEdge  `json:"edges"`
}

// GraphEdge is one directed connection.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// NodeDetailResponse returns a node with its resolved neighbours.
type NodeDetailResponse struct {
	Node      graph.Node   `json:"node"`
	Neighbors []graph.Node `json:"neighbors"`
}

// ChatTurn is one prior message of a conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks a question grounded on the caller's documents.
type ChatRequest struct {
	Message string     `json:"message"`
	History []ChatTurn `json:"history"`
	Model   string     `json:"model"`
}

// ChatResponse is a blocking chat answer.
type ChatResponse struct {
	Message string   `json:"message"`
	Sources []string `json:"sources"`
}
