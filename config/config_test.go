package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"storage":{"driver":"memory"}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Fatalf("expected 45s llm timeout, got %v", cfg.LLM.Timeout)
	}
	if cfg.Ingestion.MaxContentChars != 100000 || cfg.Ingestion.TagsLimit != 5 {
		t.Fatalf("unexpected ingestion defaults %+v", cfg.Ingestion)
	}
	if cfg.Graph.Lock != LockLocal || cfg.Ingestion.Dispatch != DispatchInline {
		t.Fatalf("unexpected mode defaults lock=%s dispatch=%s", cfg.Graph.Lock, cfg.Ingestion.Dispatch)
	}
	if cfg.NeedsRedis() {
		t.Fatalf("defaults should not need redis")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MINDGRAPH_LLM_MODELS", "gpt-4o, claude-3-haiku ,")
	t.Setenv("MINDGRAPH_INGESTION_TAGS_LIMIT", "3")
	t.Setenv("MINDGRAPH_SERVER_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `{"storage":{"driver":"memory"},"llm":{"models":["ignored"]}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.LLM.Models) != 2 || cfg.LLM.Models[0] != "gpt-4o" || cfg.LLM.Models[1] != "claude-3-haiku" {
		t.Fatalf("unexpected models %v", cfg.LLM.Models)
	}
	if cfg.Ingestion.TagsLimit != 3 || cfg.Server.JWTSecret != "from-env" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Ingestion, cfg.Server)
	}
}

func TestLoadRejectsInvalidSections(t *testing.T) {
	cases := map[string]string{
		"storage.driver":              `{"storage":{"driver":"sqlite"}}`,
		"graph.lock":                  `{"storage":{"driver":"memory"},"graph":{"lock":"zk"}}`,
		"ingestion.dispatch":          `{"storage":{"driver":"memory"},"ingestion":{"dispatch":"kafka"}}`,
		"telemetry.metrics_port":      `{"storage":{"driver":"memory"},"telemetry":{"enabled":true}}`,
		"llm.top_p":                   `{"storage":{"driver":"memory"},"llm":{"top_p":1.5}}`,
		"storage.redis.host":          `{"storage":{"driver":"memory","redis":{"host":""}},"graph":{"lock":"redis"}}`,
		"storage.postgres.dbname":     `{"storage":{"postgres":{"dbname":""}}}`,
		"ingestion.max_content_chars": `{"storage":{"driver":"memory"},"ingestion":{"max_content_chars":0}}`,
	}
	for want, body := range cases {
		_, err := Load(writeConfig(t, body))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: expected validation error, got %v", want, err)
		}
	}
}

func TestPostgresURLSkipsFieldChecks(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@db/mindgraph"}
	if err := p.Validate(); err != nil {
		t.Fatalf("url should be sufficient: %v", err)
	}
}

func TestLoadConfigPanicsOnMissingFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
}
