// Package memory is an in-process repository with the same contract as the
// Postgres store. It backs tests and the local ingest command.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/mindgraph/internal/graph"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"github.com/mohammad-safakhou/mindgraph/models"
)

type nodeKey struct {
	owner string
	label string
}

// Store keeps users, documents and nodes in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[string]models.User
	docs     map[string]models.Document
	nodes    map[string]graph.Node
	byLabel  map[nodeKey]string
	docOrder []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:     time.Now,
		users:   make(map[string]models.User),
		docs:    make(map[string]models.Document),
		nodes:   make(map[string]graph.Node),
		byLabel: make(map[nodeKey]string),
	}
}

func cloneNode(n graph.Node) graph.Node {
	n.Connections = append([]string{}, n.Connections...)
	return n
}

// FindNodeByLabel implements graph.Repository.
func (s *Store) FindNodeByLabel(ctx context.Context, ownerID, label string) (graph.Node, bool, error) {
	if err := ctx.Err(); err != nil {
		return graph.Node{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byLabel[nodeKey{ownerID, label}]
	if !ok {
		return graph.Node{}, false, nil
	}
	return cloneNode(s.nodes[id]), true, nil
}

// CreateNode implements graph.Repository. An existing (owner, label) pair
// returns the stored node.
func (s *Store) CreateNode(ctx context.Context, n graph.Node) (graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return graph.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nodeKey{n.OwnerID, n.Label}
	if id, ok := s.byLabel[key]; ok {
		return cloneNode(s.nodes[id]), nil
	}
	now := s.now()
	n.ID = uuid.NewString()
	n.CreatedAt, n.UpdatedAt = now, now
	n = cloneNode(n)
	s.nodes[n.ID] = n
	s.byLabel[key] = n.ID
	return cloneNode(n), nil
}

// UpdateNode implements graph.Repository.
func (s *Store) UpdateNode(ctx context.Context, id string, patch graph.NodePatch) (graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return graph.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return graph.Node{}, store.ErrNotFound
	}
	if patch.Type != nil {
		n.Type = *patch.Type
	}
	if patch.Description != nil {
		n.Description = *patch.Description
	}
	if patch.Strength != nil {
		n.Strength = *patch.Strength
	}
	if patch.Connections != nil {
		n.Connections = append([]string{}, patch.Connections...)
	}
	n.UpdatedAt = s.now()
	s.nodes[id] = n
	return cloneNode(n), nil
}

// FindNodesByLabels implements graph.Repository.
func (s *Store) FindNodesByLabels(ctx context.Context, ownerID string, labels []string) ([]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []graph.Node{}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		id, ok := s.byLabel[nodeKey{ownerID, l}]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, cloneNode(s.nodes[id]))
	}
	return out, nil
}

// ListNodes returns the owner's nodes, strongest first.
func (s *Store) ListNodes(ctx context.Context, ownerID string) ([]graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []graph.Node{}
	for _, n := range s.nodes {
		if n.OwnerID == ownerID {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

// GetNode returns one node scoped to its owner.
func (s *Store) GetNode(ctx context.Context, ownerID, id string) (graph.Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok || n.OwnerID != ownerID {
		return graph.Node{}, false, nil
	}
	return cloneNode(n), true, nil
}

// CreateDocument stores a copy of d with a generated id.
func (s *Store) CreateDocument(ctx context.Context, d models.Document) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Status == "" {
		d.Status = models.DocumentStatusProcessing
	}
	now := s.now()
	d.ID = uuid.NewString()
	d.CreatedAt, d.UpdatedAt = now, now
	s.docs[d.ID] = d
	s.docOrder = append(s.docOrder, d.ID)
	return d, nil
}

// UpdateDocument overwrites the non-nil fields of patch.
func (s *Store) UpdateDocument(ctx context.Context, ownerID, id string, patch models.DocumentPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.OwnerID != ownerID {
		return store.ErrNotFound
	}
	set := func(dst **string, v *string) {
		if v != nil {
			c := *v
			*dst = &c
		}
	}
	set(&d.Summary, patch.Summary)
	set(&d.Entities, patch.Entities)
	set(&d.KeyPoints, patch.KeyPoints)
	set(&d.Tags, patch.Tags)
	set(&d.Embedding, patch.Embedding)
	if patch.Status != nil {
		d.Status = *patch.Status
	}
	d.UpdatedAt = s.now()
	s.docs[id] = d
	return nil
}

// GetDocument returns the owner's document.
func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (models.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok || d.OwnerID != ownerID {
		return models.Document{}, false, nil
	}
	return d, true, nil
}

// ListDocuments returns the owner's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Document{}
	skipped := 0
	for i := len(s.docOrder) - 1; i >= 0 && len(out) < limit; i-- {
		d := s.docs[s.docOrder[i]]
		if d.OwnerID != ownerID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ListStaleProcessing returns processing documents last updated before the cutoff.
func (s *Store) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Document{}
	for _, id := range s.docOrder {
		d := s.docs[id]
		if d.Status == models.DocumentStatusProcessing && d.UpdatedAt.Before(before) {
			out = append(out, d)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// CreateUser adds an account; the email must be unused.
func (s *Store) CreateUser(ctx context.Context, email, hash string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	if _, ok := s.users[email]; ok {
		return models.User{}, store.ErrConflict
	}
	u := models.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, CreatedAt: s.now()}
	s.users[email] = u
	return u, nil
}

// GetUserByEmail looks up an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	return u, ok, nil
}
