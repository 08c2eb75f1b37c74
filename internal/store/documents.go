package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mohammad-safakhou/mindgraph/models"
)

const documentColumns = `id, owner_id, title, content, content_type, domain,
       summary, entities, key_points, tags, embedding,
       file_url, file_type, file_size, status, created_at, updated_at`

func scanDocument(row rowScanner) (models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &d.Content, &d.ContentType, &d.Domain,
		&d.Summary, &d.Entities, &d.KeyPoints, &d.Tags, &d.Embedding,
		&d.FileURL, &d.FileType, &d.FileSize, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// CreateDocument inserts a document and returns it with its generated id and
// timestamps. An empty status defaults to processing.
func (s *Store) CreateDocument(ctx context.Context, d models.Document) (models.Document, error) {
	if d.Status == "" {
		d.Status = models.DocumentStatusProcessing
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (owner_id, title, content, content_type, domain, file_url, file_type, file_size, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id, created_at, updated_at`,
		d.OwnerID, d.Title, d.Content, d.ContentType, d.Domain, d.FileURL, d.FileType, d.FileSize, string(d.Status),
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// UpdateDocument overwrites the non-nil fields of patch on the owner's document.
func (s *Store) UpdateDocument(ctx context.Context, ownerID, id string, patch models.DocumentPatch) error {
	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents
SET summary=COALESCE($3, summary),
    entities=COALESCE($4, entities),
    key_points=COALESCE($5, key_points),
    tags=COALESCE($6, tags),
    embedding=COALESCE($7, embedding),
    status=COALESCE($8, status),
    updated_at=NOW()
WHERE id=$1 AND owner_id=$2`,
		id, ownerID, nullable(patch.Summary), nullable(patch.Entities), nullable(patch.KeyPoints),
		nullable(patch.Tags), nullable(patch.Embedding), status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDocument returns the owner's document.
func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (models.Document, bool, error) {
	d, err := scanDocument(s.DB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id=$1 AND owner_id=$2`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, err
	}
	return d, true, nil
}

// ListDocuments returns the owner's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
}

// ListStaleProcessing returns documents across owners that are still
// processing and have not been touched since before.
func (s *Store) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status=$1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		string(models.DocumentStatusProcessing), before.UTC(), limit)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
