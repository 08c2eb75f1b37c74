package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/mindgraph/internal/extract"
	"github.com/mohammad-safakhou/mindgraph/internal/llm"
	"go.uber.org/zap"
)

const (
	chatContextDocs    = 5
	chatSnippetRunes   = 1500
	chatHistoryTurns   = 10
	chatMaxTokens      = 1000
	chatTemperature    = 0.7
	chatSystemPreamble = "You are a research assistant answering questions about the user's own knowledge base. " +
		"Ground every answer on the documents below and say so when they do not cover the question."
)

// Chatter is the completion gateway as seen by chat handlers.
type Chatter interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
	CompleteStream(ctx context.Context, req llm.CompletionRequest) (*llm.Stream, error)
}

type ChatHandler struct {
	LLM       Chatter
	Index     Searcher
	Documents DocumentReader
	Logger    *zap.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("", h.chat)
	g.POST("/stream", h.stream)
}

func (h *ChatHandler) chat(c echo.Context) error {
	req, err := bindChat(c)
	if err != nil {
		return err
	}
	creq, sources := h.buildRequest(c.Request().Context(), userID(c), req)
	reply, err := h.LLM.Complete(c.Request().Context(), creq)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ChatResponse{Message: reply, Sources: sources})
}

// stream relays the completion as server-sent events. Errors before the first
// byte go through the error handler; later ones just end the stream.
func (h *ChatHandler) stream(c echo.Context) error {
	req, err := bindChat(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	creq, _ := h.buildRequest(ctx, userID(c), req)
	s, err := h.LLM.CompleteStream(ctx, creq)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if err := llm.WriteSSE(ctx, res, res.Flush, s); err != nil && ctx.Err() == nil {
		h.logger().Warn("chat stream ended early", zap.String("model", s.Model()), zap.Error(err))
	}
	return nil
}

func bindChat(c echo.Context) (ChatRequest, error) {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	return req, nil
}

// buildRequest assembles system context from the caller's best matching
// documents followed by the recent history and the new message. Retrieval
// failures degrade to an ungrounded answer.
func (h *ChatHandler) buildRequest(ctx context.Context, owner string, req ChatRequest) (llm.CompletionRequest, []string) {
	var (
		b       strings.Builder
		sources []string
	)
	b.WriteString(chatSystemPreamble)
	if h.Index != nil {
		hits, err := h.Index.Search(ctx, owner, req.Message, chatContextDocs)
		if err != nil {
			h.logger().Warn("chat retrieval failed", zap.Error(err))
		}
		for _, hit := range hits {
			doc, ok, err := h.Documents.GetDocument(ctx, owner, hit.ID)
			if err != nil || !ok {
				continue
			}
			body := doc.Content
			if doc.Summary != nil && *doc.Summary != "" {
				body = *doc.Summary
			}
			fmt.Fprintf(&b, "\n\n[%d] %s\n%s", len(sources)+1, doc.Title, extract.Truncate(body, chatSnippetRunes))
			sources = append(sources, doc.ID)
		}
	}

	msgs := []llm.ChatMessage{{Role: llm.RoleSystem, Content: b.String()}}
	history := req.History
	if len(history) > chatHistoryTurns {
		history = history[len(history)-chatHistoryTurns:]
	}
	for _, turn := range history {
		role := llm.Role(turn.Role)
		if (role != llm.RoleUser && role != llm.RoleAssistant) || strings.TrimSpace(turn.Content) == "" {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: role, Content: turn.Content})
	}
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: req.Message})

	if sources == nil {
		sources = []string{}
	}
	return llm.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
		Model:       req.Model,
	}, sources
}

func (h *ChatHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
