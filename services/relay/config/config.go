// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the relay configuration.
//
// # Description
//
// Values come from, lowest to highest precedence: built-in defaults, an
// optional YAML file, and ELLA_* environment variables. OPENAI_API_KEY and
// VECTOR_STORE_ID are honored without the prefix.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/ella/services/llm"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// =============================================================================
// Types
// =============================================================================

// Config is the complete relay configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Weaviate  WeaviateConfig  `mapstructure:"weaviate"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Citations CitationsConfig `mapstructure:"citations"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

// OpenAIConfig holds generation engine settings.
type OpenAIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	GateModel string `mapstructure:"gate_model"`
}

// LogValue keeps the key out of structured logs.
func (c OpenAIConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("base_url", c.BaseURL),
		slog.String("model", c.Model),
		slog.String("gate_model", c.GateModel),
		slog.Bool("key_present", c.APIKey != ""),
	)
}

// RetrievalConfig selects and tunes the semantic index.
type RetrievalConfig struct {
	Backend        string  `mapstructure:"backend"`
	VectorStoreID  string  `mapstructure:"vector_store_id"`
	MaxResults     int     `mapstructure:"max_results"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	RewriteQuery   bool    `mapstructure:"rewrite_query"`
}

// WeaviateConfig configures the weaviate retrieval backend.
type WeaviateConfig struct {
	URL   string `mapstructure:"url"`
	Class string `mapstructure:"class"`
}

// CacheConfig configures the optional redis retrieval cache.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// StreamConfig tunes downstream streaming.
type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	UpstreamTimeout   time.Duration `mapstructure:"upstream_timeout"`
}

// PromptsConfig points at optional prompt override files.
type PromptsConfig struct {
	InstructionsFile string `mapstructure:"instructions_file"`
	GateFile         string `mapstructure:"gate_file"`
}

// CitationsConfig selects the citation asset store.
type CitationsConfig struct {
	Backend            string `mapstructure:"backend"`
	BadgerPath         string `mapstructure:"badger_path"`
	GCSBucket          string `mapstructure:"gcs_bucket"`
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file"`
}

// LimitsConfig configures inbound rate limiting. Zero disables it.
type LimitsConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	TraceStdout  bool   `mapstructure:"trace_stdout"`
	Metrics      bool   `mapstructure:"metrics"`
}

// =============================================================================
// Constants
// =============================================================================

const (
	BackendOpenAI   = "openai"
	BackendWeaviate = "weaviate"

	CitationsNone   = "none"
	CitationsBadger = "badger"
	CitationsGCS    = "gcs"

	envPrefix     = "ELLA"
	envConfigPath = "ELLA_CONFIG"
)

// =============================================================================
// Loader
// =============================================================================

// Loader owns one viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader reads defaults, the config file and the environment.
//
// # Inputs
//
//   - path: YAML file to read. Empty falls back to $ELLA_CONFIG; when that is
//     unset too, no file is read.
//
// # Outputs
//
//   - *Loader: ready to produce a Config.
//   - error: the config file could not be read or parsed.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", "ELLA_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("retrieval.vector_store_id", "ELLA_RETRIEVAL_VECTOR_STORE_ID", "ELLA_VECTOR_STORE_ID", "VECTOR_STORE_ID")

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return &Loader{v: v}, nil
}

// Load is NewLoader followed by Config.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// Config unmarshals, normalizes and validates the current values.
func (l *Loader) Config() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the file in use, or "".
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch re-reads the config file on change and passes every valid result
// to onChange. Invalid edits are logged and ignored. It is a no-op when no
// config file is in use.
//
// # Limitations
//
//   - viper offers no way to stop the watcher; call once per process.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Config()
		if err != nil {
			slog.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("Config file changed", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 12210)
	v.SetDefault("server.gin_mode", "release")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4.1-mini-2025-04-14")
	v.SetDefault("openai.gate_model", "")

	v.SetDefault("retrieval.backend", BackendOpenAI)
	v.SetDefault("retrieval.vector_store_id", "")
	v.SetDefault("retrieval.max_results", 10)
	v.SetDefault("retrieval.score_threshold", 0.5)
	v.SetDefault("retrieval.rewrite_query", true)

	v.SetDefault("weaviate.url", "")
	v.SetDefault("weaviate.class", "Document")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 10*time.Minute)

	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
	v.SetDefault("stream.upstream_timeout", 5*time.Minute)

	v.SetDefault("prompts.instructions_file", "")
	v.SetDefault("prompts.gate_file", "")

	v.SetDefault("citations.backend", CitationsNone)
	v.SetDefault("citations.badger_path", "")
	v.SetDefault("citations.gcs_bucket", "")
	v.SetDefault("citations.gcs_credentials_file", "")

	v.SetDefault("limits.requests_per_second", 0.0)
	v.SetDefault("limits.burst", 0)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.trace_stdout", false)
	v.SetDefault("telemetry.metrics", true)
}

// =============================================================================
// Normalize / Validate
// =============================================================================

// Normalize fills derived defaults and trims string values.
func (c Config) Normalize() Config {
	c.OpenAI.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	if strings.TrimSpace(c.OpenAI.GateModel) == "" {
		c.OpenAI.GateModel = c.OpenAI.Model
	}
	c.Retrieval.Backend = strings.ToLower(strings.TrimSpace(c.Retrieval.Backend))
	c.Retrieval.VectorStoreID = strings.TrimSpace(c.Retrieval.VectorStoreID)
	c.Citations.Backend = strings.ToLower(strings.TrimSpace(c.Citations.Backend))
	if c.Citations.Backend == "" {
		c.Citations.Backend = CitationsNone
	}
	if c.Limits.RequestsPerSecond > 0 && c.Limits.Burst <= 0 {
		c.Limits.Burst = int(c.Limits.RequestsPerSecond) + 1
	}
	return c
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.OpenAI.BaseURL == "" {
		errs = append(errs, errors.New("openai.base_url is required"))
	}
	if c.OpenAI.Model == "" {
		errs = append(errs, errors.New("openai.model is required"))
	}
	switch c.Retrieval.Backend {
	case BackendOpenAI:
	case BackendWeaviate:
		if c.Weaviate.URL == "" {
			errs = append(errs, errors.New("weaviate.url is required when retrieval.backend is weaviate"))
		}
	default:
		errs = append(errs, fmt.Errorf("retrieval.backend must be %q or %q, got %q", BackendOpenAI, BackendWeaviate, c.Retrieval.Backend))
	}
	if c.Retrieval.MaxResults < 1 || c.Retrieval.MaxResults > 50 {
		errs = append(errs, fmt.Errorf("retrieval.max_results must be in 1..50, got %d", c.Retrieval.MaxResults))
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.score_threshold must be in 0..1, got %v", c.Retrieval.ScoreThreshold))
	}
	if c.Stream.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("stream.heartbeat_interval must be positive"))
	}
	switch c.Citations.Backend {
	case CitationsNone:
	case CitationsBadger:
		if c.Citations.BadgerPath == "" {
			errs = append(errs, errors.New("citations.badger_path is required for the badger backend"))
		}
	case CitationsGCS:
		if c.Citations.GCSBucket == "" {
			errs = append(errs, errors.New("citations.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("citations.backend must be none, badger or gcs, got %q", c.Citations.Backend))
	}
	if c.Limits.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("limits.requests_per_second cannot be negative"))
	}
	return errors.Join(errs...)
}

// RetrievalEnabled reports whether a semantic index is configured.
func (c Config) RetrievalEnabled() bool {
	if c.Retrieval.Backend == BackendWeaviate {
		return c.Weaviate.URL != ""
	}
	return c.Retrieval.VectorStoreID != ""
}

// TakeAPIKey seals the engine key in an enclave and clears the plaintext
// copy held by c.
func (c *Config) TakeAPIKey() *llm.APIKey {
	key := llm.NewAPIKey(c.OpenAI.APIKey)
	c.OpenAI.APIKey = ""
	return key
}
