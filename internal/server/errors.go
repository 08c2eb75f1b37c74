package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/mindgraph/internal/ingest"
	"github.com/mohammad-safakhou/mindgraph/internal/llm"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"go.uber.org/zap"
)

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, msg
	case errors.Is(err, llm.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "completion service unavailable"
	case errors.Is(err, llm.ErrMissingCredential):
		return http.StatusInternalServerError, "completion service not configured"
	case errors.Is(err, llm.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, ingest.ErrEmptyDocument), errors.Is(err, ingest.ErrOwnerRequired):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// ErrorHandler renders every error as {"error": msg} and logs 5xx with the
// underlying cause.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code, msg := statusOf(err)
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote_ip", c.RealIP()),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		if c.Response().Committed {
			return
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}
