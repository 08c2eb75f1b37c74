package models

import "time"

// DocumentStatus tracks the enrichment lifecycle of a document.
type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an ingested item. AI-derived fields are nil until enrichment
// completes; Entities, KeyPoints, Tags and Embedding hold serialised JSON.
type Document struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	Domain      string         `json:"domain"`
	Summary     *string        `json:"summary,omitempty"`
	Entities    *string        `json:"entities,omitempty"`
	KeyPoints   *string        `json:"key_points,omitempty"`
	Tags        *string        `json:"tags,omitempty"`
	Embedding   *string        `json:"embedding,omitempty"`
	FileURL     *string        `json:"file_url,omitempty"`
	FileType    *string        `json:"file_type,omitempty"`
	FileSize    *int64         `json:"file_size,omitempty"`
	Status      DocumentStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentPatch lists enrichment fields to overwrite. Nil fields are kept;
// content is never patched.
type DocumentPatch struct {
	Summary   *string
	Entities  *string
	KeyPoints *string
	Tags      *string
	Embedding *string
	Status    *DocumentStatus
}

// User is an account that owns documents and graph nodes.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
