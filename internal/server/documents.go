package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/mindgraph/internal/ingest"
	"github.com/mohammad-safakhou/mindgraph/internal/search"
	"github.com/mohammad-safakhou/mindgraph/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Ingestor accepts uploads and re-runs enrichment.
type Ingestor interface {
	Upload(ctx context.Context, in ingest.UploadInput) (models.Document, error)
	Reprocess(ctx context.Context, ownerID, docID string) error
}

// DocumentReader is the read side of the document repository.
type DocumentReader interface {
	GetDocument(ctx context.Context, ownerID, id string) (models.Document, bool, error)
	ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]models.Document, error)
}

// Searcher runs owner-scoped full-text queries.
type Searcher interface {
	Search(ctx context.Context, ownerID, q string, limit int) ([]search.Hit, error)
}

type DocumentsHandler struct {
	Ingest    Ingestor
	Documents DocumentReader
	Index     Searcher
	MaxUpload int64
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)
	g.POST("/:id/reprocess", h.reprocess)
}

// create stores a document and schedules enrichment. The response carries
// the raw record with status "processing".
func (h *DocumentsHandler) create(c echo.Context) error {
	in := ingest.UploadInput{OwnerID: userID(c)}
	var req CreateDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	in.Title, in.Content, in.ContentType, in.Domain = req.Title, req.Content, req.ContentType, req.Domain

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart body")
		default:
			if h.MaxUpload > 0 && fh.Size > h.MaxUpload {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
			}
			f, err := fh.Open()
			if err != nil {
				return err
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
			}
			in.FileName = fh.Filename
			in.Data = data
			in.MimeType = detectMime(fh.Header.Get(echo.HeaderContentType), fh.Filename, data)
		}
	}

	doc, err := h.Ingest.Upload(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *DocumentsHandler) list(c echo.Context) error {
	limit, offset := pagination(c)
	items, err := h.Documents.ListDocuments(c.Request().Context(), userID(c), limit, offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.Document{}
	}
	return c.JSON(http.StatusOK, DocumentListResponse{Items: items, Limit: limit, Offset: offset})
}

func (h *DocumentsHandler) get(c echo.Context) error {
	doc, ok, err := h.Documents.GetDocument(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *DocumentsHandler) reprocess(c echo.Context) error {
	if err := h.Ingest.Reprocess(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *DocumentsHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit, _ := pagination(c)
	hits, err := h.Index.Search(c.Request().Context(), userID(c), q, limit)
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: q, Hits: hits})
}

func pagination(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// detectMime prefers the part header, then the file extension, then sniffing.
func detectMime(header, name string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
