package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const doneSentinel = "[DONE]"

// Stream is an open streamed completion. Recv yields text deltas until
// io.EOF; Close releases the upstream connection.
type Stream struct {
	model  string
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	reader *bufio.Reader

	idleTimeout time.Duration
	idle        *time.Timer
	stalled     atomic.Bool

	done      bool
	closeOnce sync.Once
}

// CompleteStream opens a streamed completion against exactly one model: the
// request override or the first model of the chain. There is no fallback
// because a partially consumed stream cannot be resumed on another model.
// The gateway timeout bounds the wait for response headers and, after that,
// each wait for the next line of the body.
func (g *Gateway) CompleteStream(ctx context.Context, req CompletionRequest) (*Stream, error) {
	if g.cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if len(req.Messages) == 0 {
		return nil, ErrInvalidRequest
	}
	model := g.Candidates(req.Model)[0]

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := g.newRequest(streamCtx, model, req, true)
	if err != nil {
		cancel()
		return nil, err
	}

	timer := time.AfterFunc(g.cfg.Timeout, cancel)
	resp, err := g.httpClient.Do(httpReq)
	if !timer.Stop() && err == nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("model %s: %w", model, context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("model %s: send request: %w", model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &ProviderError{Model: model, StatusCode: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
	}

	recordStreamSession(ctx, model)
	s := &Stream{
		model:       model,
		ctx:         streamCtx,
		cancel:      cancel,
		body:        resp.Body,
		reader:      bufio.NewReader(resp.Body),
		idleTimeout: g.cfg.Timeout,
	}
	s.idle = time.AfterFunc(s.idleTimeout, func() {
		s.stalled.Store(true)
		cancel()
	})
	s.idle.Stop()
	return s, nil
}

// Model reports the model serving the stream.
func (s *Stream) Model() string { return s.model }

// Recv returns the next non-empty text delta. It returns io.EOF after the
// upstream [DONE] sentinel or when the body is exhausted. Malformed event
// lines are skipped. An upstream that sends nothing for longer than the
// gateway timeout ends the stream with context.DeadlineExceeded.
func (s *Stream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		s.idle.Reset(s.idleTimeout)
		line, err := s.reader.ReadString('\n')
		s.idle.Stop()
		if err != nil {
			if s.stalled.Load() {
				return "", fmt.Errorf("model %s: stream idle for %s: %w", s.model, s.idleTimeout, context.DeadlineExceeded)
			}
			if !errors.Is(err, io.EOF) {
				if ctxErr := s.ctx.Err(); ctxErr != nil {
					return "", ctxErr
				}
				return "", fmt.Errorf("model %s: read stream: %w", s.model, err)
			}
			s.done = true
		}
		delta, end := parseEventLine(line)
		if end {
			s.done = true
			return "", io.EOF
		}
		if delta != "" {
			return delta, nil
		}
	}
}

// Close cancels the upstream request and closes its body. It is safe to call
// more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.idle.Stop()
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// parseEventLine extracts the text delta from one SSE line. end reports the
// [DONE] sentinel.
func parseEventLine(line string) (delta string, end bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == doneSentinel {
		return "", true
	}
	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, false
}

// WriteSSE re-frames the stream for downstream clients: one
// `data: {"content": ...}` event per delta followed by `data: [DONE]`. The
// stream is closed on return. A read error ends the output without [DONE].
func WriteSSE(ctx context.Context, w io.Writer, flush func(), s *Stream) error {
	defer s.Close()
	if flush == nil {
		flush = func() {}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			if _, err := io.WriteString(w, "data: "+doneSentinel+"\n\n"); err != nil {
				return err
			}
			flush()
			return nil
		}
		if err != nil {
			return err
		}
		payload, err := encodeDelta(delta)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flush()
	}
}

func encodeDelta(delta string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		Content string `json:"content"`
	}{Content: delta}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
