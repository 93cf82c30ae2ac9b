// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.tutorstack/config.yaml or ./config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors checked with errors.Is().
// Sensitive fields (passwords, API keys) are masked in MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKeys indicates no API keys are configured for a service.
	ErrMissingAPIKeys = errors.New("missing API keys")

	// ErrInvalidModelName indicates a model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidChunking indicates the chunking parameters are out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidMinScore indicates the similarity floor is out of range.
	ErrInvalidMinScore = errors.New("invalid minimum score")

	// ErrInvalidRetry indicates the retry parameters are out of range.
	ErrInvalidRetry = errors.New("invalid retry parameters")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRedisAddr indicates the Redis host or port is invalid.
	ErrInvalidRedisAddr = errors.New("invalid Redis address")

	// ErrInvalidQdrantAddr indicates the Qdrant host or port is invalid.
	ErrInvalidQdrantAddr = errors.New("invalid Qdrant address")
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Storage configuration (see storage.go for the DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Metadata cache
	RedisHost          string `mapstructure:"redis_host" json:"redis_host"`
	RedisPort          int    `mapstructure:"redis_port" json:"redis_port"`
	RedisDB            int    `mapstructure:"redis_db" json:"redis_db"`
	RedisPassword      string `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
	MetadataTTLSeconds int    `mapstructure:"metadata_ttl_seconds" json:"metadata_ttl_seconds"`

	// Vector index
	QdrantHost string `mapstructure:"qdrant_host" json:"qdrant_host"`
	QdrantPort int    `mapstructure:"qdrant_port" json:"qdrant_port"`

	// Embedding service (OpenAI-compatible endpoint, rotating key pool)
	EmbeddingBaseURL       string `mapstructure:"embedding_base_url" json:"embedding_base_url"`
	EmbeddingModel         string `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingAPIKeys       string `mapstructure:"embedding_api_keys" json:"embedding_api_keys"` // SENSITIVE: masked in MarshalJSON
	EmbeddingMaxConcurrent int    `mapstructure:"embedding_max_concurrent" json:"embedding_max_concurrent"`
	EmbeddingRPS           int    `mapstructure:"embedding_rps" json:"embedding_rps"`

	// Completion service
	CompletionBaseURL        string `mapstructure:"completion_base_url" json:"completion_base_url"`
	CompletionModel          string `mapstructure:"completion_model" json:"completion_model"`
	CompletionAPIKeys        string `mapstructure:"completion_api_keys" json:"completion_api_keys"` // SENSITIVE: masked in MarshalJSON
	CompletionTimeoutSeconds int    `mapstructure:"completion_timeout_seconds" json:"completion_timeout_seconds"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	MaxChunks    int `mapstructure:"max_chunks" json:"max_chunks"`

	// Retrieval
	SearchMaxChunks int     `mapstructure:"search_max_chunks" json:"search_max_chunks"`
	MinScore        float64 `mapstructure:"min_score" json:"min_score"`

	// Retry discipline shared by every external call
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" json:"retry_max_attempts"`
	RetryBaseDelayMS int `mapstructure:"retry_base_delay_ms" json:"retry_base_delay_ms"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".tutorstack")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "tutorstack")
	viper.SetDefault("postgres_password", "tutorstack_dev_password")
	viper.SetDefault("postgres_db_name", "tutorstack")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis_host", "localhost")
	viper.SetDefault("redis_port", 6379)
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("metadata_ttl_seconds", 3600)

	// Qdrant defaults
	viper.SetDefault("qdrant_host", "localhost")
	viper.SetDefault("qdrant_port", 6334)

	// Embedding service defaults
	viper.SetDefault("embedding_base_url", "https://router.huggingface.co/v1")
	viper.SetDefault("embedding_model", "BAAI/bge-large-en-v1.5")
	viper.SetDefault("embedding_max_concurrent", 5)
	viper.SetDefault("embedding_rps", 0)

	// Completion service defaults
	viper.SetDefault("completion_base_url", "https://router.huggingface.co/v1")
	viper.SetDefault("completion_model", "meta-llama/Llama-3.3-70B-Instruct")
	viper.SetDefault("completion_timeout_seconds", 60)

	// Chunking defaults
	viper.SetDefault("chunk_size", 1500)
	viper.SetDefault("chunk_overlap", 300)
	viper.SetDefault("max_chunks", 1000)

	// Retrieval defaults
	viper.SetDefault("search_max_chunks", 10)
	viper.SetDefault("min_score", 0.7)

	// Retry defaults
	viper.SetDefault("retry_max_attempts", 3)
	viper.SetDefault("retry_base_delay_ms", 1000)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds the environment overrides explicitly. Secrets
// only arrive through the environment, never the config file on disk.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_password", "POSTGRES_PASSWORD")
	mustBind("redis_password", "REDIS_PASSWORD")
	mustBind("embedding_api_keys", "EMBEDDING_API_KEYS")
	mustBind("completion_api_keys", "COMPLETION_API_KEYS")

	mustBind("qdrant_host", "QDRANT_HOST")
	mustBind("qdrant_port", "QDRANT_PORT")
	mustBind("redis_host", "REDIS_HOST")
	mustBind("embedding_base_url", "EMBEDDING_BASE_URL")
	mustBind("embedding_model", "EMBEDDING_MODEL")
	mustBind("completion_base_url", "COMPLETION_BASE_URL")
	mustBind("completion_model", "COMPLETION_MODEL")
	mustBind("log_level", "LOG_LEVEL")
}

// splitKeys turns a comma-separated key pool into a slice, dropping
// blanks.
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// EmbeddingKeys returns the embedding service key pool.
func (c *Config) EmbeddingKeys() []string {
	return splitKeys(c.EmbeddingAPIKeys)
}

// CompletionKeys returns the completion service key pool.
func (c *Config) CompletionKeys() []string {
	return splitKeys(c.CompletionAPIKeys)
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matching against the real secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last 2
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.RedisPassword = maskSecret(a.RedisPassword)
	a.EmbeddingAPIKeys = maskSecret(a.EmbeddingAPIKeys)
	a.CompletionAPIKeys = maskSecret(a.CompletionAPIKeys)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
