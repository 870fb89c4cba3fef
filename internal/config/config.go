package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the protoquery service configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Cache       CacheConfig       `yaml:"cache"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	NATS        NATSConfig        `yaml:"nats"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. Empty APIKeys disables the gate.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port              int   `yaml:"port"`
	ReadTimeoutSec    int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int   `yaml:"write_timeout_sec"`
	ShutdownSec       int   `yaml:"shutdown_timeout_sec"`
	RequestTimeoutSec int   `yaml:"request_timeout_sec"`
	MaxBodyBytes      int64 `yaml:"max_body_bytes"`
}

// EmbeddingConfig holds embedding provider, retry and concurrency settings.
type EmbeddingConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	Dimensions    int    `yaml:"dimensions"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	MaxRetries    int    `yaml:"max_retries"`
	BackoffBaseMs int    `yaml:"backoff_base_ms"`
	BackoffMaxMs  int    `yaml:"backoff_max_ms"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	QueueDepth    int    `yaml:"queue_depth"`
	// RatePerSec paces provider calls; 0 disables pacing.
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// CacheConfig holds the query-embedding cache settings.
type CacheConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addrs     []string `yaml:"addrs"`
	Password  string   `yaml:"password"`
	KeyPrefix string   `yaml:"key_prefix"`
	TTLSec    int      `yaml:"ttl_sec"`
}

// VectorStoreConfig selects and configures the snippet store backend.
type VectorStoreConfig struct {
	Driver string       `yaml:"driver"` // valkey, qdrant, bolt (default: valkey)
	Valkey ValkeyConfig `yaml:"valkey"`
	Qdrant QdrantConfig `yaml:"qdrant"`
	Bolt   BoltConfig   `yaml:"bolt"`
}

// ValkeyConfig holds Valkey Search connection settings.
type ValkeyConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	Index            string   `yaml:"index"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	TLS        bool   `yaml:"tls"`
}

// BoltConfig points at a local read-only corpus file.
type BoltConfig struct {
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
}

// RetrievalConfig holds ranking limits and the source catalog.
type RetrievalConfig struct {
	Threshold   float64        `yaml:"threshold"`
	DefaultTopK int            `yaml:"default_top_k"`
	MaxTopK     int            `yaml:"max_top_k"`
	Sources     []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one knowledge base source.
type SourceConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Enabled     *bool  `yaml:"enabled"` // nil means enabled
}

// NATSConfig holds the optional NATS responder settings. Empty URL disables it.
type NATSConfig struct {
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"`
	QueueGroup string `yaml:"queue_group"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit YAML path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, expands env variables, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.RequestTimeoutSec <= 0 {
		c.HTTP.RequestTimeoutSec = 20
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 64 << 10
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 10
	}
	if c.Embedding.MaxRetries < 0 {
		c.Embedding.MaxRetries = 0
	}
	if c.Embedding.BackoffBaseMs <= 0 {
		c.Embedding.BackoffBaseMs = 200
	}
	if c.Embedding.BackoffMaxMs <= 0 {
		c.Embedding.BackoffMaxMs = 5000
	}
	if c.Embedding.MaxConcurrent <= 0 {
		c.Embedding.MaxConcurrent = 8
	}
	if c.Embedding.QueueDepth < 0 {
		c.Embedding.QueueDepth = 0
	}
	if c.Embedding.RatePerSec > 0 && c.Embedding.Burst <= 0 {
		c.Embedding.Burst = 1
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "protoquery:emb:"
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 24 * 60 * 60
	}

	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = "valkey"
	}
	if c.VectorStore.Valkey.Index == "" {
		c.VectorStore.Valkey.Index = "snippets"
	}
	if c.VectorStore.Valkey.KeyPrefix == "" {
		c.VectorStore.Valkey.KeyPrefix = "protoquery:snippet:"
	}
	if c.VectorStore.Valkey.ReadinessTimeout <= 0 {
		c.VectorStore.Valkey.ReadinessTimeout = 10
	}
	if c.VectorStore.Qdrant.Collection == "" {
		c.VectorStore.Qdrant.Collection = "snippets"
	}
	if c.VectorStore.Bolt.Bucket == "" {
		c.VectorStore.Bolt.Bucket = "snippets"
	}

	if c.Retrieval.Threshold == 0 {
		c.Retrieval.Threshold = 0.7
	}
	if c.Retrieval.DefaultTopK <= 0 {
		c.Retrieval.DefaultTopK = 5
	}
	if c.Retrieval.MaxTopK <= 0 {
		c.Retrieval.MaxTopK = 50
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = "protoquery.query"
	}
	if c.NATS.QueueGroup == "" {
		c.NATS.QueueGroup = "protoquery"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "protoquery"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required")
	}
	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when cache is enabled")
	}

	switch c.VectorStore.Driver {
	case "valkey":
		if len(c.VectorStore.Valkey.Addrs) == 0 {
			return fmt.Errorf("vector_store.valkey.addrs is required")
		}
	case "qdrant":
		if c.VectorStore.Qdrant.Addr == "" {
			return fmt.Errorf("vector_store.qdrant.addr is required")
		}
	case "bolt":
		if c.VectorStore.Bolt.Path == "" {
			return fmt.Errorf("vector_store.bolt.path is required")
		}
	default:
		return fmt.Errorf(
			"vector_store.driver must be \"valkey\", \"qdrant\" or \"bolt\", got %q",
			c.VectorStore.Driver,
		)
	}

	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be within [-1, 1], got %v", c.Retrieval.Threshold)
	}
	if c.Retrieval.DefaultTopK > c.Retrieval.MaxTopK {
		return fmt.Errorf("retrieval.default_top_k (%d) exceeds max_top_k (%d)",
			c.Retrieval.DefaultTopK, c.Retrieval.MaxTopK)
	}

	seen := make(map[string]struct{}, len(c.Retrieval.Sources))
	for i, s := range c.Retrieval.Sources {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("retrieval.sources[%d].id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("retrieval.sources: duplicate id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
