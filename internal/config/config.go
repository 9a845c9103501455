// Package config provides unified configuration loading for the retrieval
// service. Supports an optional YAML file layer plus environment variable
// overrides, applied in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Vector        VectorConfig        `yaml:"vector"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Fetch         FetchConfig         `yaml:"fetch"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment"`
	BlobStore     BlobStoreConfig     `yaml:"blob_store"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	BodyLimitBytes   int64         `yaml:"body_limit_bytes"`
}

// DatabaseConfig holds the (Postgres-only) database connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// VectorConfig holds the embedding/vector-column dimension.
type VectorConfig struct {
	Dimension int `yaml:"dimension"`
}

// CacheConfig holds query-result cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"` // provider-a or provider-b
	Dimension     int           `yaml:"dimension"`
	Concurrency   int           `yaml:"concurrency"`
	ProviderA     ProviderConfig `yaml:"provider_a"`
	ProviderB     ProviderConfig `yaml:"provider_b"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ProviderConfig holds a single embedding provider's connection details.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// FetchConfig governs the URL fetch subsystem.
type FetchConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	MaxRedirects int           `yaml:"max_redirects"`
}

// IngestionConfig holds chunking/ingestion tuning.
type IngestionConfig struct {
	ChunkTargetBytes int `yaml:"chunk_target_bytes"`
	ChunkOverlap     int `yaml:"chunk_overlap"`
	EnqueuePageSize  int `yaml:"enqueue_page_size"`
	EnqueueBatchSize int `yaml:"enqueue_batch_size"`
}

// EnrichmentConfig gates and tunes the enrichment task queue.
type EnrichmentConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Lease         time.Duration `yaml:"lease"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// BlobStoreConfig configures the optional S3-compatible raw-payload fallback.
type BlobStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ThresholdBytes  int64  `yaml:"threshold_bytes"`
}

// Enabled reports whether a blob store backend has been configured.
func (b BlobStoreConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// AuthConfig holds the bearer-token auth settings.
type AuthConfig struct {
	Token string `yaml:"token"` // empty disables auth
}

// Load reads configuration from an optional YAML file and applies
// environment overrides, in that order, following the same
// Load/DefaultConfig/Validate shape used throughout this codebase's
// predecessor.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8085,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			BodyLimitBytes:   10 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Vector: VectorConfig{
			Dimension: 768,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:       "provider-a",
			Dimension:      768,
			Concurrency:    10,
			RequestTimeout: 30 * time.Second,
		},
		Fetch: FetchConfig{
			Concurrency:  5,
			Timeout:      30 * time.Second,
			MaxBodyBytes: 10 << 20,
			MaxRedirects: 5,
		},
		Ingestion: IngestionConfig{
			ChunkTargetBytes: 1536,
			ChunkOverlap:     128,
			EnqueuePageSize:  1000,
			EnqueueBatchSize: 100,
		},
		Enrichment: EnrichmentConfig{
			Enabled:     false,
			Lease:       300 * time.Second,
			MaxAttempts: 3,
			RetryDelay:  60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors. Vector dimension is
// deliberately NOT range-checked against an embedding provider here — the
// ingestion path validates each batch's actual vector length at ingest
// time so a provider switch followed by re-ingest is tolerated (see
// spec's Open Question on default vector dimension).
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Vector.Dimension < 1 {
		return fmt.Errorf("invalid vector dimension: %d", c.Vector.Dimension)
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Embedding.Provider != "provider-a" && c.Embedding.Provider != "provider-b" {
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}
	return nil
}

// applyEnvOverrides applies the environment variables named in the external
// interface spec.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("VECTOR_DIM"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.Vector.Dimension = dim
			cfg.Embedding.Dimension = dim
		}
	}
	if v := os.Getenv("EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("EMBED_PROVIDER_A_BASE_URL"); v != "" {
		cfg.Embedding.ProviderA.BaseURL = v
	}
	if v := os.Getenv("EMBED_PROVIDER_A_API_KEY"); v != "" {
		cfg.Embedding.ProviderA.APIKey = v
	}
	if v := os.Getenv("EMBED_PROVIDER_A_MODEL"); v != "" {
		cfg.Embedding.ProviderA.Model = v
	}
	if v := os.Getenv("EMBED_PROVIDER_B_BASE_URL"); v != "" {
		cfg.Embedding.ProviderB.BaseURL = v
	}
	if v := os.Getenv("EMBED_PROVIDER_B_API_KEY"); v != "" {
		cfg.Embedding.ProviderB.APIKey = v
	}
	if v := os.Getenv("EMBED_PROVIDER_B_MODEL"); v != "" {
		cfg.Embedding.ProviderB.Model = v
	}
	if v := os.Getenv("RAGED_API_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("ENRICHMENT_ENABLED"); v != "" {
		cfg.Enrichment.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BLOB_STORE_ENDPOINT"); v != "" {
		cfg.BlobStore.Endpoint = v
	}
	if v := os.Getenv("BLOB_STORE_BUCKET"); v != "" {
		cfg.BlobStore.Bucket = v
	}
	if v := os.Getenv("BLOB_STORE_REGION"); v != "" {
		cfg.BlobStore.Region = v
	}
	if v := os.Getenv("BLOB_STORE_ACCESS_KEY"); v != "" {
		cfg.BlobStore.AccessKeyID = v
	}
	if v := os.Getenv("BLOB_STORE_SECRET_KEY"); v != "" {
		cfg.BlobStore.SecretAccessKey = v
	}
	if v := os.Getenv("BLOB_STORE_THRESHOLD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BlobStore.ThresholdBytes = n
		}
	}
	if v := os.Getenv("BODY_LIMIT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.BodyLimitBytes = n
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
