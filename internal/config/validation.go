package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Key pools: at least one key per external service.
	if len(c.EmbeddingKeys()) == 0 {
		return fmt.Errorf("%w: set EMBEDDING_API_KEYS (comma-separated pool)", ErrMissingAPIKeys)
	}
	if len(c.CompletionKeys()) == 0 {
		return fmt.Errorf("%w: set COMPLETION_API_KEYS (comma-separated pool)", ErrMissingAPIKeys)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding_model cannot be empty", ErrInvalidModelName)
	}
	if c.CompletionModel == "" {
		return fmt.Errorf("%w: completion_model cannot be empty", ErrInvalidModelName)
	}

	// Chunking: same ranges the splitter enforces, surfaced at startup.
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d",
			ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("%w: max_chunks must be positive, got %d", ErrInvalidChunking, c.MaxChunks)
	}

	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidMinScore, c.MinScore)
	}

	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		return fmt.Errorf("%w: retry_max_attempts must be between 1 and 10, got %d",
			ErrInvalidRetry, c.RetryMaxAttempts)
	}
	if c.RetryBaseDelayMS < 1 {
		return fmt.Errorf("%w: retry_base_delay_ms must be positive, got %d",
			ErrInvalidRetry, c.RetryBaseDelayMS)
	}

	// PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "tutorstack_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Redis
	if c.RedisHost == "" || c.RedisPort < 1 || c.RedisPort > 65535 {
		return fmt.Errorf("%w: %s:%d", ErrInvalidRedisAddr, c.RedisHost, c.RedisPort)
	}

	// Qdrant
	if c.QdrantHost == "" || c.QdrantPort < 1 || c.QdrantPort > 65535 {
		return fmt.Errorf("%w: %s:%d", ErrInvalidQdrantAddr, c.QdrantHost, c.QdrantPort)
	}

	return nil
}
