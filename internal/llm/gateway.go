package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every call to the completion endpoint.
	DefaultTimeout = 45 * time.Second

	defaultBaseURL         = "https://api.openai.com/v1"
	defaultTopP            = 1.0
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

// DefaultModels is the built-in fallback chain used when no models are configured.
var DefaultModels = []string{"gpt-4o-mini", "gpt-4.1-mini", "gpt-3.5-turbo"}

// GatewayConfig configures the completion gateway.
type GatewayConfig struct {
	BaseURL     string
	APIKey      string
	Models      []string
	VisionModel string
	Timeout     time.Duration
	TopP        float64

	// BreakerFailures is the number of consecutive failures that opens a
	// model's circuit; BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Gateway sends chat completions to an OpenAI-compatible endpoint, falling
// back across candidate models in blocking mode.
type Gateway struct {
	cfg        GatewayConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the HTTP client. Timeouts are enforced per call
// through the request context, so the client itself should not set one.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// NewGateway builds a gateway. A nil logger disables logging.
func NewGateway(cfg GatewayConfig, logger *zap.Logger, opts ...Option) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TopP <= 0 {
		cfg.TopP = defaultTopP
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Candidates returns the ordered, de-duplicated list of models tried for a
// request with the given override.
func (g *Gateway) Candidates(override string) []string {
	chain := g.cfg.Models
	if len(chain) == 0 {
		chain = DefaultModels
	}
	out := make([]string, 0, len(chain)+1)
	seen := make(map[string]struct{}, len(chain)+1)
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" {
			return
		}
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	add(override)
	for _, m := range chain {
		add(m)
	}
	return out
}

// Complete returns the first non-empty completion across the candidate
// models. It fails with an *ExhaustedError only after every candidate failed.
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if g.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}
	if len(req.Messages) == 0 {
		return "", ErrInvalidRequest
	}

	exhausted := &ExhaustedError{}
	for _, model := range g.Candidates(req.Model) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		content, err := g.attempt(ctx, model, req)
		if err == nil {
			recordCompletion(ctx, model)
			return content, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		g.logger.Warn("candidate model failed", zap.String("model", model), zap.Error(err))
		recordCandidateFailure(ctx, model)
		exhausted.Attempts = append(exhausted.Attempts, Attempt{Model: model, Err: err})
	}
	return "", exhausted
}

func (g *Gateway) attempt(ctx context.Context, model string, req CompletionRequest) (string, error) {
	out, err := g.breaker(model).Execute(func() (interface{}, error) {
		return g.call(ctx, model, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("model %s: %w", model, err)
		}
		return "", err
	}
	return out.(string), nil
}

func (g *Gateway) call(ctx context.Context, model string, req CompletionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	httpReq, err := g.newRequest(callCtx, model, req, false)
	if err != nil {
		return "", err
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("model %s: send request: %w", model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("model %s: read response: %w", model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{Model: model, StatusCode: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("model %s: decode response: %w", model, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("model %s: %w", model, ErrEmptyCompletion)
	}
	return out.Choices[0].Message.Content, nil
}

func (g *Gateway) newRequest(ctx context.Context, model string, req CompletionRequest, stream bool) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        g.cfg.TopP,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (g *Gateway) breaker(model string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[model]; ok {
		return cb
	}
	threshold := g.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        model,
		MaxRequests: 1,
		Timeout:     g.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Info("model circuit state changed",
				zap.String("model", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the model's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	g.breakers[model] = cb
	return cb
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
