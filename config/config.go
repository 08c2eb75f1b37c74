package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service and its workers.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Search    SearchConfig    `mapstructure:"search"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	MaxUploadMB  int           `mapstructure:"max_upload_mb"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return errors.New("server.address required")
	}
	if s.TokenTTL <= 0 {
		return errors.New("server.token_ttl must be positive")
	}
	if s.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	return nil
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Models          []string      `mapstructure:"models"`
	VisionModel     string        `mapstructure:"vision_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	TopP            float64       `mapstructure:"top_p"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// Validate does not require an API key; calls fail with a credential error
// instead so the rest of the service still starts.
func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.BaseURL) == "" {
		return errors.New("llm.base_url required")
	}
	if l.Timeout <= 0 {
		return errors.New("llm.timeout must be positive")
	}
	if l.TopP < 0 || l.TopP > 1 {
		return fmt.Errorf("llm.top_p must be within [0,1], got %v", l.TopP)
	}
	return nil
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StorageConfig groups persistence settings.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	File     FileConfig     `mapstructure:"file"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// FileConfig locates uploaded originals.
type FileConfig struct {
	DataDir string `mapstructure:"data_dir"`
	BaseURL string `mapstructure:"base_url"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

func (s StorageConfig) Validate() error {
	switch s.Driver {
	case DriverPostgres:
		return s.Postgres.Validate()
	case DriverMemory:
		return nil
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, s.Driver)
	}
}

// Graph lock modes.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// GraphConfig selects how graph merges are serialised per owner.
type GraphConfig struct {
	Lock    string        `mapstructure:"lock"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

func (g GraphConfig) Validate() error {
	if g.Lock != LockLocal && g.Lock != LockRedis {
		return fmt.Errorf("graph.lock must be %q or %q, got %q", LockLocal, LockRedis, g.Lock)
	}
	if g.Lock == LockRedis && g.LockTTL <= 0 {
		return errors.New("graph.lock_ttl must be positive for redis locks")
	}
	return nil
}

// Dispatch modes.
const (
	DispatchStream = "stream"
	DispatchInline = "inline"
)

// IngestionConfig controls upload limits and the enrichment pipeline.
type IngestionConfig struct {
	MaxContentChars int           `mapstructure:"max_content_chars"`
	TagsLimit       int           `mapstructure:"tags_limit"`
	Dispatch        string        `mapstructure:"dispatch"`
	Stream          string        `mapstructure:"stream"`
	EventsStream    string        `mapstructure:"events_stream"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	EnrichTimeout   time.Duration `mapstructure:"enrich_timeout"`
	SweepCron       string        `mapstructure:"sweep_cron"`
	SweepBatch      int           `mapstructure:"sweep_batch"`
}

func (i IngestionConfig) Validate() error {
	if i.MaxContentChars <= 0 {
		return errors.New("ingestion.max_content_chars must be positive")
	}
	if i.TagsLimit <= 0 {
		return errors.New("ingestion.tags_limit must be positive")
	}
	switch i.Dispatch {
	case DispatchInline:
	case DispatchStream:
		if strings.TrimSpace(i.Stream) == "" || strings.TrimSpace(i.ConsumerGroup) == "" {
			return errors.New("ingestion.stream and ingestion.consumer_group required for stream dispatch")
		}
	default:
		return fmt.Errorf("ingestion.dispatch must be %q or %q, got %q", DispatchStream, DispatchInline, i.Dispatch)
	}
	if i.EnrichTimeout <= 0 {
		return errors.New("ingestion.enrich_timeout must be positive")
	}
	return nil
}

// SearchConfig locates the full-text index. An empty path keeps it in memory.
type SearchConfig struct {
	IndexPath string `mapstructure:"index_path"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Ingestion.Dispatch == DispatchStream || c.Graph.Lock == LockRedis
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []func() error{
		c.Server.Validate,
		c.LLM.Validate,
		c.Storage.Validate,
		c.Graph.Validate,
		c.Ingestion.Validate,
		c.Telemetry.Validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	if c.NeedsRedis() {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.debug", false)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", "24h")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.cookie_secure", false)
	v.SetDefault("server.max_upload_mb", 25)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.models", []string{})
	v.SetDefault("llm.vision_model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "45s")
	v.SetDefault("llm.top_p", 1.0)
	v.SetDefault("llm.breaker_failures", 5)
	v.SetDefault("llm.breaker_cooldown", "30s")
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "mindgraph")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "mindgraph")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.file.data_dir", "./data/uploads")
	v.SetDefault("storage.file.base_url", "")
	v.SetDefault("graph.lock", LockLocal)
	v.SetDefault("graph.lock_ttl", "30s")
	v.SetDefault("ingestion.max_content_chars", 100000)
	v.SetDefault("ingestion.tags_limit", 5)
	v.SetDefault("ingestion.dispatch", DispatchInline)
	v.SetDefault("ingestion.stream", "mindgraph.document.enrich")
	v.SetDefault("ingestion.events_stream", "mindgraph.document.events")
	v.SetDefault("ingestion.consumer_group", "mindgraph-workers")
	v.SetDefault("ingestion.max_attempts", 3)
	v.SetDefault("ingestion.enrich_timeout", "2m")
	v.SetDefault("ingestion.sweep_cron", "*/5 * * * *")
	v.SetDefault("ingestion.sweep_batch", 100)
	v.SetDefault("search.index_path", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 0)
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// Load reads config.json (or the file at path) and MINDGRAPH_* environment
// overrides. A missing file is fine when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("MINDGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.Models = splitList(cfg.LLM.Models)
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entry points: it panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// splitList accepts both JSON arrays and comma separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
