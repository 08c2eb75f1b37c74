// Package server exposes the HTTP API: auth, documents, graph, chat, health
// and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/mindgraph/config"
	"github.com/mohammad-safakhou/mindgraph/internal/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Users     UserStore
	Documents DocumentReader
	Nodes     NodeReader
	Ingest    Ingestor
	Index     Searcher
	LLM       Chatter
	Health    Pinger
	Metrics   http.Handler
	Secret    []byte
}

type Server struct {
	e      *echo.Echo
	cfg    config.ServerConfig
	logger *zap.Logger
}

// New wires the routes. Everything under /api except /api/auth requires a
// valid token.
func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
			AllowCredentials: true,
		}))
	}
	if cfg.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmtMB(cfg.MaxUploadMB + 1)))
	}

	e.GET("/healthz", healthz(deps.Health))
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metrics))

	api := e.Group("/api")
	auth := &AuthHandler{Users: deps.Users, Secret: deps.Secret, TTL: cfg.TokenTTL, SecureCookie: cfg.CookieSecure}
	if auth.TTL <= 0 {
		auth.TTL = 24 * time.Hour
	}
	auth.Register(api.Group("/auth"))

	protected := api.Group("", runtime.EchoAuthMiddleware(deps.Secret))
	protected.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"user_id": userID(c)})
	})
	(&DocumentsHandler{
		Ingest:    deps.Ingest,
		Documents: deps.Documents,
		Index:     deps.Index,
		MaxUpload: int64(cfg.MaxUploadMB) << 20,
	}).Register(protected.Group("/documents"))
	(&GraphHandler{Nodes: deps.Nodes}).Register(protected.Group("/graph"))
	(&ChatHandler{
		LLM:       deps.LLM,
		Index:     deps.Index,
		Documents: deps.Documents,
		Logger:    logger.Named("chat"),
	}).Register(protected.Group("/chat"))

	return &Server{e: e, cfg: cfg, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("address", s.cfg.Address))
		errCh <- s.e.Start(s.cfg.Address)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}

func healthz(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
			}
		}
		return c.String(http.StatusOK, "ok")
	}
}

func fmtMB(n int) string {
	return strconv.Itoa(n) + "M"
}
