package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sseServer(t *testing.T, write func(w http.ResponseWriter, r *http.Request)) *Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		write(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewGateway(GatewayConfig{BaseURL: srv.URL, APIKey: "test-key", Models: []string{"stream-model"}}, nil, WithHTTPClient(srv.Client()))
}

func TestWriteSSEReframesDeltas(t *testing.T) {
	g := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	s, err := g.CompleteStream(context.Background(), CompletionRequest{Messages: userMessage("hello")})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteSSE(context.Background(), &buf, nil, s); err != nil {
		t.Fatalf("WriteSSE: %v", err)
	}
	want := "data: {\"content\":\"Hi\"}\n\ndata: [DONE]\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected framing\n got %q\nwant %q", buf.String(), want)
	}
}

func TestStreamDropsMalformedLines(t *testing.T) {
	g := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "data: {not json}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a<b>\"}}]}\n\n")
		_, _ = io.WriteString(w, "event: ping\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"c\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n\n")
	})

	s, err := g.CompleteStream(context.Background(), CompletionRequest{Messages: userMessage("hello")})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteSSE(context.Background(), &buf, nil, s); err != nil {
		t.Fatalf("WriteSSE: %v", err)
	}
	want := "data: {\"content\":\"a<b>\"}\n\ndata: {\"content\":\"c\"}\n\ndata: [DONE]\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected framing\n got %q\nwant %q", buf.String(), want)
	}
}

func TestStreamEndsAtEOFWithoutSentinel(t *testing.T) {
	g := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")
	})

	s, err := g.CompleteStream(context.Background(), CompletionRequest{Messages: userMessage("hello")})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteSSE(context.Background(), &buf, nil, s); err != nil {
		t.Fatalf("WriteSSE: %v", err)
	}
	want := "data: {\"content\":\"tail\"}\n\ndata: [DONE]\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected framing\n got %q\nwant %q", buf.String(), want)
	}
}

func TestCompleteStreamSurfacesProviderError(t *testing.T) {
	calls := 0
	g := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := g.CompleteStream(context.Background(), CompletionRequest{Messages: userMessage("hello")})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 provider error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", calls)
	}
}

func TestStreamCloseCancelsUpstream(t *testing.T) {
	released := make(chan struct{})
	g := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		flusher.Flush()
		select {
		case <-r.Context().Done():
			close(released)
		case <-time.After(5 * time.Second):
		}
	})

	s, err := g.CompleteStream(context.Background(), CompletionRequest{Messages: userMessage("hello")})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	delta, err := s.Recv()
	if err != nil || delta != "first" {
		t.Fatalf("expected first delta, got %q err=%v", delta, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = s.Close()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream request was not cancelled after Close")
	}
}

func TestStreamUsesOverrideModel(t *testing.T) {
	var model string
	u := &upstream{reply: func(w http.ResponseWriter, r *http.Request, m string) {
		model = m
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}}
	g := newTestGateway(t, u, GatewayConfig{Models: []string{"default"}}, nil)

	s, err := g.CompleteStream(context.Background(), CompletionRequest{Messages: userMessage("hello"), Model: "override"})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	defer s.Close()
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if model != "override" || s.Model() != "override" {
		t.Fatalf("expected override model, got %q", model)
	}
	if !u.bodies[0].Stream {
		t.Fatalf("expected stream=true in request body")
	}
}

func TestStreamIdleUpstreamTimesOut(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"slow\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
			close(released)
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	g := NewGateway(GatewayConfig{BaseURL: srv.URL, APIKey: "test-key", Models: []string{"stream-model"}, Timeout: 150 * time.Millisecond},
		nil, WithHTTPClient(srv.Client()))

	s, err := g.CompleteStream(context.Background(), CompletionRequest{Messages: userMessage("hello")})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	defer s.Close()
	if delta, err := s.Recv(); err != nil || delta != "slow" {
		t.Fatalf("expected first delta, got %q err=%v", delta, err)
	}
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	if _, err := s.Recv(); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected idle deadline, got %v", err)
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Fatalf("idle stream was not cut off, waited %s", waited)
	}
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream request was not cancelled after idle timeout")
	}
}
