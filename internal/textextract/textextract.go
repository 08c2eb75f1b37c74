// Package textextract converts uploaded bytes into plain text. Every
// extractor is best-effort: failures and panics become empty text.
package textextract

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Extractor turns one media type into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte, mimeType string) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	return f(ctx, data, mimeType)
}

// Registry dispatches on media type. Keys are either exact types
// ("application/json") or major-type wildcards ("text/*").
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	logger     *zap.Logger
}

// NewRegistry returns a registry preloaded with the plain text, JSON and HTML
// extractors. Images need a vision extractor registered with Register.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{extractors: make(map[string]Extractor), logger: logger}
	r.Register("text/*", ExtractorFunc(plainText))
	r.Register("application/json", ExtractorFunc(plainText))
	r.Register("application/xml", ExtractorFunc(plainText))
	r.Register("text/markdown", ExtractorFunc(plainText))
	r.Register("text/html", ExtractorFunc(HTML))
	r.Register("application/xhtml+xml", ExtractorFunc(HTML))
	return r
}

// Register installs e for mimeType, replacing any previous extractor.
func (r *Registry) Register(mimeType string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[strings.ToLower(strings.TrimSpace(mimeType))] = e
}

// Supports reports whether an extractor is registered for mimeType.
func (r *Registry) Supports(mimeType string) bool {
	_, ok := r.lookup(Normalize(mimeType))
	return ok
}

// Extract returns the text of data or "" when no extractor applies or the
// extractor fails.
func (r *Registry) Extract(ctx context.Context, data []byte, mimeType string) (text string) {
	if len(data) == 0 {
		return ""
	}
	mt := Normalize(mimeType)
	e, ok := r.lookup(mt)
	if !ok {
		r.logger.Debug("no text extractor", zap.String("mime_type", mt))
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("text extractor panicked", zap.String("mime_type", mt), zap.String("panic", fmt.Sprint(rec)))
			text = ""
		}
	}()
	out, err := e.Extract(ctx, data, mt)
	if err != nil {
		r.logger.Warn("text extraction failed", zap.String("mime_type", mt), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(out)
}

func (r *Registry) lookup(mt string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[mt]; ok {
		return e, true
	}
	if i := strings.IndexByte(mt, '/'); i > 0 {
		if e, ok := r.extractors[mt[:i]+"/*"]; ok {
			return e, true
		}
	}
	return nil, false
}

// Normalize lower-cases a media type and drops its parameters.
func Normalize(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mt
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func plainText(_ context.Context, data []byte, _ string) (string, error) {
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}
