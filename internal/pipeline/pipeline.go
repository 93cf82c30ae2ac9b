// Package pipeline is the composition surface of the retrieval system:
// it wires the chunker, embedding client, vector index and retriever
// behind the four operations the rest of the backend calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tutorstack/retrieval/internal/chunk"
	"github.com/tutorstack/retrieval/internal/embed"
	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/metadata"
	"github.com/tutorstack/retrieval/internal/retrieval"
	"github.com/tutorstack/retrieval/internal/vector"
)

// Chunker splits document text.
type Chunker interface {
	Split(text string, opts chunk.Options) ([]string, error)
}

// Embedder turns chunks into vectors.
type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []string, ref embed.ChunkRef) ([]embed.Embedded, error)
}

// Indexer is the write side of the vector index.
type Indexer interface {
	Upsert(ctx context.Context, points []vector.Point) error
	DeleteCollection(ctx context.Context, userID string) error
}

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, queryVector []float32, userID string, topK int) ([]vector.Hit, error)
}

// LibrarySearcher answers questions over the user's library.
type LibrarySearcher interface {
	SearchLibrary(ctx context.Context, p retrieval.Params) (retrieval.Response, error)
	ExpandQuery(ctx context.Context, query string) string
}

// DocLister enumerates a user's documents, for purge.
type DocLister interface {
	DocumentIDs(ctx context.Context, userID string) (map[string]metadata.DocType, error)
}

// CacheInvalidator drops cached metadata entries.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, docID string, docType metadata.DocType) error
}

// Pipeline bundles the retrieval components behind one facade.
type Pipeline struct {
	chunker   Chunker
	embedder  Embedder
	index     Indexer
	searcher  Searcher
	retriever LibrarySearcher
	store     DocLister
	cache     CacheInvalidator
	chunkOpts chunk.Options
	logger    *slog.Logger
}

// Config wires a Pipeline.
type Config struct {
	Chunker   Chunker
	Embedder  Embedder
	Index     Indexer
	Searcher  Searcher
	Retriever LibrarySearcher
	Store     DocLister
	Cache     CacheInvalidator

	// ChunkOpts tunes document splitting. Zero value uses the defaults.
	ChunkOpts chunk.Options
}

// New creates a Pipeline.
func New(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.ChunkOpts
	if opts.Size == 0 {
		opts = chunk.DefaultOptions()
	}
	return &Pipeline{
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		index:     cfg.Index,
		searcher:  cfg.Searcher,
		retriever: cfg.Retriever,
		store:     cfg.Store,
		cache:     cfg.Cache,
		chunkOpts: opts,
		logger:    logger,
	}
}

// IngestResult summarizes one ingestion.
type IngestResult struct {
	Chunks   int
	Embedded int
	Stored   int
}

// IngestDocument chunks, embeds and indexes one document. Unlike the
// search path, every failure here propagates: a document the user cannot
// later find is worse than a visible upload error.
func (p *Pipeline) IngestDocument(ctx context.Context, text, userID, docID string, docType metadata.DocType) (IngestResult, error) {
	if !docType.Valid() {
		return IngestResult{}, fault.Validationf("invalid document type %d", docType)
	}

	chunks, err := p.chunker.Split(text, p.chunkOpts)
	if err != nil {
		return IngestResult{}, fmt.Errorf("chunk document %s: %w", docID, err)
	}

	embedded, err := p.embedder.EmbedChunks(ctx, chunks, embed.ChunkRef{
		UserID:  userID,
		DocID:   docID,
		DocType: docType,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("embed document %s: %w", docID, err)
	}
	if len(embedded) == 0 {
		return IngestResult{}, fault.Permanent(
			fmt.Errorf("no chunks of document %s could be embedded", docID))
	}

	points := make([]vector.Point, len(embedded))
	for i, e := range embedded {
		points[i] = vector.Point{
			Vector:     e.Vector,
			UserID:     e.Metadata.UserID,
			DocID:      e.Metadata.DocID,
			ChunkIndex: e.Metadata.ChunkIndex,
			ChunkText:  e.Metadata.ChunkText,
		}
	}
	if err := p.index.Upsert(ctx, points); err != nil {
		return IngestResult{}, fmt.Errorf("index document %s: %w", docID, err)
	}

	result := IngestResult{Chunks: len(chunks), Embedded: len(embedded), Stored: len(points)}
	p.logger.Info("document ingested",
		"user_id", userID, "doc_id", docID, "type", docType.String(),
		"chunks", result.Chunks, "stored", result.Stored)
	return result, nil
}

// SearchLibrary answers a question from the user's documents.
func (p *Pipeline) SearchLibrary(ctx context.Context, params retrieval.Params) (retrieval.Response, error) {
	return p.retriever.SearchLibrary(ctx, params)
}

// ExpandQuery rewrites a terse question into a retrieval-friendly one.
// It never fails; on any trouble the original query comes back.
func (p *Pipeline) ExpandQuery(ctx context.Context, query string) string {
	return p.retriever.ExpandQuery(ctx, query)
}

// SearchSimilarChunks runs one raw similarity search. The underlying
// read path degrades to an empty result on service failure.
func (p *Pipeline) SearchSimilarChunks(ctx context.Context, queryVector []float32, userID string, topK int) ([]vector.Hit, error) {
	return p.searcher.Search(ctx, queryVector, userID, topK)
}

// PurgeUser removes the user's collection and drops their cached
// metadata. A user who never ingested anything is not an error; cache
// cleanup is best effort since every entry expires on its own.
func (p *Pipeline) PurgeUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fault.Validationf("user id is required")
	}

	if err := p.index.DeleteCollection(ctx, userID); err != nil {
		if !errors.Is(err, vector.ErrCollectionNotFound) {
			return fmt.Errorf("purge user %s: %w", userID, err)
		}
		p.logger.Info("no collection to purge", "user_id", userID)
	}

	ids, err := p.store.DocumentIDs(ctx, userID)
	if err != nil {
		p.logger.Warn("could not list documents for cache cleanup", "user_id", userID, "error", err)
		return nil
	}
	for id, t := range ids {
		if err := p.cache.Invalidate(ctx, id, t); err != nil {
			p.logger.Warn("cache invalidation failed", "doc_id", id, "error", err)
		}
	}
	p.logger.Info("user purged", "user_id", userID, "documents", len(ids))
	return nil
}
