// Package config loads Fire Circle configuration: defaults, then a YAML file,
// then FIRECIRCLE_ environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	LLM       LLMConfig       `koanf:"llm"`
	Cache     CacheConfig     `koanf:"cache"`
	Circle    CircleConfig    `koanf:"circle"`
	Storage   StorageConfig   `koanf:"storage"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type LLMConfig struct {
	Provider   string `koanf:"provider"` // ollama, openai
	BaseURL    string `koanf:"base_url"`
	APIKey     string `koanf:"api_key"`
	MaxRetries int    `koanf:"max_retries"` // attempts per call, including the first
}

type CacheConfig struct {
	Enabled   bool          `koanf:"enabled"`
	RedisAddr string        `koanf:"redis_addr"`
	TTL       time.Duration `koanf:"ttl"`
}

type CircleConfig struct {
	Participants             []string      `koanf:"participants"` // model ids
	MaxRounds                int           `koanf:"max_rounds"`
	MinViableCircle          int           `koanf:"min_viable_circle"`
	FailureMode              string        `koanf:"failure_mode"` // resilient, strict
	ConvergenceThreshold     float64       `koanf:"convergence_threshold"`
	ConvergenceRounds        int           `koanf:"convergence_rounds"`
	DissentThreshold         float64       `koanf:"dissent_threshold"`
	ChairDivergenceThreshold float64       `koanf:"chair_divergence_threshold"`
	CallTimeout              time.Duration `koanf:"call_timeout"`
	Temperature              float64       `koanf:"temperature"`
	PatternExtractor         string        `koanf:"pattern_extractor"` // lexical, model
	PatternExtractorModel    string        `koanf:"pattern_extractor_model"`
}

type StorageConfig struct {
	Driver        string `koanf:"driver"` // sqlite, memory
	Path          string `koanf:"path"`
	Encrypt       bool   `koanf:"encrypt"`
	EncryptionKey string `koanf:"encryption_key"` // hex, 32 bytes
}

// Load reads configuration, layering file and environment over defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")
	k.Set("llm.provider", "ollama")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.max_retries", 3)

	k.Set("cache.enabled", false)
	k.Set("cache.redis_addr", "localhost:6379")
	k.Set("cache.ttl", "24h")

	k.Set("circle.max_rounds", 3)
	k.Set("circle.min_viable_circle", 2)
	k.Set("circle.failure_mode", "resilient")
	k.Set("circle.convergence_threshold", 0.85)
	k.Set("circle.convergence_rounds", 2)
	k.Set("circle.dissent_threshold", 0.3)
	k.Set("circle.chair_divergence_threshold", 0.2)
	k.Set("circle.call_timeout", "120s")
	k.Set("circle.temperature", 0.7)
	k.Set("circle.pattern_extractor", "lexical")

	k.Set("storage.driver", "sqlite")
	k.Set("storage.path", "firecircle.db")
	k.Set("storage.encrypt", false)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (FIRECIRCLE_CIRCLE_MAX_ROUNDS -> circle.max_rounds).
	// Only the first underscore separates section from key; the rest belong
	// to multi-word key names.
	if err := k.Load(env.Provider("FIRECIRCLE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FIRECIRCLE_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
