package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tutorstack/retrieval/internal/chunk"
	"github.com/tutorstack/retrieval/internal/config"
	"github.com/tutorstack/retrieval/internal/database"
	"github.com/tutorstack/retrieval/internal/embed"
	"github.com/tutorstack/retrieval/internal/llm"
	"github.com/tutorstack/retrieval/internal/log"
	"github.com/tutorstack/retrieval/internal/metadata"
	"github.com/tutorstack/retrieval/internal/pipeline"
	"github.com/tutorstack/retrieval/internal/retrieval"
	"github.com/tutorstack/retrieval/internal/retry"
	"github.com/tutorstack/retrieval/internal/vector"
)

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON}), nil
}

// buildPipeline constructs the full pipeline from config. The returned
// cleanup closes every connection it opened.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	pool, err := database.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, err
	}

	conn, err := vector.Dial(cfg.QdrantHost, cfg.QdrantPort)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	cleanup := func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("closing redis client", "error", err)
		}
		if err := conn.Close(); err != nil {
			logger.Warn("closing qdrant connection", "error", err)
		}
		pool.Close()
	}

	policy := retry.Policy{
		MaxAttempts: uint(cfg.RetryMaxAttempts),
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		Logger:      logger,
	}

	embedKeyring, err := llm.NewKeyring(cfg.EmbeddingKeys())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("embedding key pool: %w", err)
	}
	completionKeyring, err := llm.NewKeyring(cfg.CompletionKeys())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("completion key pool: %w", err)
	}

	embedder := embed.New(embed.Config{
		BaseURL:           cfg.EmbeddingBaseURL,
		Model:             cfg.EmbeddingModel,
		MaxConcurrent:     cfg.EmbeddingMaxConcurrent,
		RequestsPerSecond: float64(cfg.EmbeddingRPS),
	}, embedKeyring, policy, logger)

	completer := llm.NewCompleter(llm.CompleterConfig{
		BaseURL: cfg.CompletionBaseURL,
		Model:   cfg.CompletionModel,
		Timeout: time.Duration(cfg.CompletionTimeoutSeconds) * time.Second,
	}, completionKeyring, policy, logger)

	store := metadata.NewStore(pool, logger)
	cache := metadata.NewCache(rdb, store,
		time.Duration(cfg.MetadataTTLSeconds)*time.Second, logger)

	manager := vector.NewManager(conn.Collections, conn.Points, logger)
	searcher := vector.NewSearcher(conn.Collections, conn.Points, policy, logger)

	retriever := retrieval.New(embedder, searcher, cache, completer, logger)

	pipe := pipeline.New(pipeline.Config{
		Chunker:   chunk.New(logger),
		Embedder:  embedder,
		Index:     manager,
		Searcher:  searcher,
		Retriever: retriever,
		Store:     store,
		Cache:     cache,
		ChunkOpts: chunk.Options{
			Size:      cfg.ChunkSize,
			Overlap:   cfg.ChunkOverlap,
			MaxChunks: cfg.MaxChunks,
		},
	}, logger)

	return pipe, cleanup, nil
}
