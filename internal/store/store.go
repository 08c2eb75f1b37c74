package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/mindgraph/models"
)

var (
	// ErrNotFound is returned when an update or owner-scoped read matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an insert violates a unique constraint.
	ErrConflict = errors.New("store: already exists")
)

// Store is the PostgreSQL repository for users, documents and knowledge nodes.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// CreateUser inserts an account. Email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, email, hash string) (models.User, error) {
	u := models.User{Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: hash}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id, created_at`,
		u.Email, hash).Scan(&u.ID, &u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.User{}, ErrConflict
	}
	return u, err
}

// GetUserByEmail looks up an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email=$1`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, err
	}
	return u, true, nil
}
