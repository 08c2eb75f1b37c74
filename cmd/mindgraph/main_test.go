package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeLLM answers every prompt by looking at the system message.
func fakeLLM(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		system := ""
		if len(body.Messages) > 0 {
			system = body.Messages[0].Content
		}
		reply := "A note about bridges."
		switch {
		case strings.Contains(system, "named entities"):
			reply = `[{"name":"Euler","type":"entity"},{"name":"Graph Theory","type":"concept"}]`
		case strings.Contains(system, "key points"):
			reply = `["seven bridges"]`
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestCommandEnrichesLocally(t *testing.T) {
	dir := t.TempDir()
	llmSrv := fakeLLM(t)
	cfg := fmt.Sprintf(`{
  "storage": {"driver": "memory", "file": {"data_dir": %q}},
  "llm": {"base_url": %q, "api_key": "test", "models": ["m1"]}
}`, filepath.Join(dir, "blobs"), llmSrv.URL)
	cfgFile := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	note := filepath.Join(dir, "bridges.md")
	if err := os.WriteFile(note, []byte("Euler and the seven bridges of Königsberg."), 0o600); err != nil {
		t.Fatalf("write note: %v", err)
	}

	root := newRootCMD()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"ingest", "-c", cfgFile, "--title", "Bridges", note})
	if err := root.Execute(); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "\tready\tBridges") {
		t.Fatalf("expected a ready document, got %q", got)
	}
	if !strings.Contains(got, "summary: A note about bridges.") || !strings.Contains(got, "tags: Euler, Graph Theory") {
		t.Fatalf("expected summary and tags, got %q", got)
	}
	if entries, _ := os.ReadDir(filepath.Join(dir, "blobs")); len(entries) == 0 {
		t.Fatalf("expected the original file to be stored")
	}
}

func TestFileMime(t *testing.T) {
	if got := fileMime("a.html", nil); !strings.HasPrefix(got, "text/html") {
		t.Fatalf("unexpected html mime %q", got)
	}
	if got := fileMime("noext", []byte("%PDF-1.4")); got != "application/pdf" {
		t.Fatalf("unexpected sniffed mime %q", got)
	}
}
