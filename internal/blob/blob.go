// Package blob stores uploaded originals.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store persists raw bytes and returns a URL that locates them.
type Store interface {
	Put(ctx context.Context, data []byte, pathHint string) (string, error)
}

// ErrEmptyBlob is returned for zero-length uploads.
var ErrEmptyBlob = errors.New("blob: empty data")

// FileStore writes blobs below Root. Returned URLs use the file scheme unless
// BaseURL is set, in which case they are BaseURL joined with the relative key.
type FileStore struct {
	Root    string
	BaseURL string
}

// NewFileStore creates root when missing.
func NewFileStore(root, baseURL string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob: root directory required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FileStore{Root: abs, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data under a unique key derived from pathHint. Keys never escape
// Root and never overwrite each other.
func (s *FileStore) Put(ctx context.Context, data []byte, pathHint string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyBlob
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := Key(pathHint)
	full := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	return s.url(key), nil
}

// Open reads a blob back by the URL Put returned.
func (s *FileStore) Open(rawURL string) ([]byte, error) {
	key, ok := s.keyOf(rawURL)
	if !ok {
		return nil, fs.ErrNotExist
	}
	return os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(key)))
}

func (s *FileStore) url(key string) string {
	if s.BaseURL != "" {
		return s.BaseURL + "/" + key
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.Root, filepath.FromSlash(key)))}).String()
}

func (s *FileStore) keyOf(rawURL string) (string, bool) {
	if s.BaseURL != "" && strings.HasPrefix(rawURL, s.BaseURL+"/") {
		return cleanKey(strings.TrimPrefix(rawURL, s.BaseURL+"/"))
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	rel, err := filepath.Rel(s.Root, filepath.FromSlash(u.Path))
	if err != nil {
		return "", false
	}
	return cleanKey(filepath.ToSlash(rel))
}

func cleanKey(k string) (string, bool) {
	k = path.Clean("/" + k)[1:]
	if k == "" || strings.HasPrefix(k, "..") {
		return "", false
	}
	return k, true
}

// Key builds "<dir>/<uuid>-<name>" from a hint such as "owner/report.pdf".
func Key(pathHint string) string {
	hint := strings.ReplaceAll(strings.TrimSpace(pathHint), "\\", "/")
	dir, name := path.Split(path.Clean("/" + hint))
	var parts []string
	for _, p := range strings.Split(dir, "/") {
		if p = sanitize(p); p != "" {
			parts = append(parts, p)
		}
	}
	name = sanitize(name)
	if name == "" {
		name = "blob"
	}
	parts = append(parts, uuid.NewString()+"-"+name)
	return strings.Join(parts, "/")
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "_")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '-'
		case r == ' ':
			return '_'
		}
		return r
	}, s)
	if s == "." || s == "_" {
		return ""
	}
	return s
}
