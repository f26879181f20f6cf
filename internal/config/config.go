// Package config loads Capsule Memory's environment-variable configuration,
// following the same envStr/envInt/envBool loader shape as the control
// plane this codebase is adapted from.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Capsule Memory service.
type Config struct {
	Port      int
	Version   string
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Store     StoreConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	Retention RetentionConfig
	PII       PIIConfig
}

type PIIConfig struct {
	KeySecret string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	APIKeys []string
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend     string // "memory" (default, functional), "mongo", "pgvector", "qdrant" (stubs)
	DataDir     string
	PgvectorURL string
}

type EmbeddingConfig struct {
	Provider   string // "openai", "ollama", "deterministic"
	OpenAIKey  string
	OpenAIModel string
	OllamaURL  string
	OllamaModel string
	Dimensions int
}

type RetrievalConfig struct {
	HotSetSize     int
	HotSetTTL      time.Duration
	RewriteCacheSize int
	RewriteCacheTTL  time.Duration
	DefaultTopK    int
	StageTimeout   time.Duration
}

type RetentionConfig struct {
	SweepInterval time.Duration
	MaxPerTenancy int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CAPSULE_PORT", 8080),
		Version: envStr("CAPSULE_VERSION", "0.1.0"),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "capsule-memory"),
		},
		Auth: AuthConfig{
			APIKeys: envList("CAPSULE_API_KEYS"),
		},
		Store: StoreConfig{
			Backend:     envStr("CAPSULE_VECTOR_STORE", "memory"),
			DataDir:     envStr("CAPSULE_DATA_DIR", ""),
			PgvectorURL: envStr("CAPSULE_PGVECTOR_URL", ""),
		},
		Embedding: EmbeddingConfig{
			Provider:    envStr("CAPSULE_EMBEDDING_PROVIDER", "deterministic"),
			OpenAIKey:   envStr("OPENAI_API_KEY", ""),
			OpenAIModel: envStr("CAPSULE_EMBEDDING_MODEL", "text-embedding-3-small"),
			OllamaURL:   envStr("OLLAMA_URL", ""),
			OllamaModel: envStr("CAPSULE_OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			Dimensions:  envInt("CAPSULE_EMBEDDING_DIMENSIONS", 1024),
		},
		Retrieval: RetrievalConfig{
			HotSetSize:       envInt("CAPSULE_HOTSET_SIZE", 2048),
			HotSetTTL:        envDuration("CAPSULE_HOTSET_TTL", 5*time.Minute),
			RewriteCacheSize: envInt("CAPSULE_REWRITE_CACHE_SIZE", 512),
			RewriteCacheTTL:  envDuration("CAPSULE_REWRITE_CACHE_TTL", 10*time.Minute),
			DefaultTopK:      envInt("CAPSULE_DEFAULT_TOPK", 10),
			StageTimeout:     envDuration("CAPSULE_STAGE_TIMEOUT", 2*time.Second),
		},
		Retention: RetentionConfig{
			SweepInterval: envDuration("CAPSULE_RETENTION_SWEEP_INTERVAL", 10*time.Minute),
			MaxPerTenancy: envInt("CAPSULE_MAX_MEMORIES_PER_TENANCY", 10000),
		},
		PII: PIIConfig{
			KeySecret: envStr("CAPSULE_PII_KEY", "capsule-memory-dev-key-do-not-use-in-production"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if seg := trimSpace(v[start:i]); seg != "" {
				out = append(out, seg)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
