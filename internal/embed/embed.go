// Package embed turns chunks into vectors through an external embedding
// service. Requests run concurrently under a semaphore, retry with the
// shared policy, and rotate credentials; a chunk that exhausts its
// retries is skipped rather than failing the batch, with the success
// rate logged in aggregate.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/llm"
	"github.com/tutorstack/retrieval/internal/metadata"
	"github.com/tutorstack/retrieval/internal/retry"
)

// Token budget heuristic: the embedding model accepts ~512 tokens and we
// estimate four characters per token.
const defaultTruncateRunes = 2048

// ChunkRef identifies the document a batch of chunks belongs to.
type ChunkRef struct {
	UserID  string
	DocID   string
	DocType metadata.DocType
}

// Metadata mirrors a chunk's identity alongside its vector.
type Metadata struct {
	UserID      string
	DocID       string
	DocType     metadata.DocType
	ChunkIndex  int
	ChunkText   string
	ChunkLength int
}

// Embedded is one successfully embedded chunk.
type Embedded struct {
	Vector   []float32
	Metadata Metadata
}

// embeddingAPI is the slice of the OpenAI client this package consumes.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Config wires a Client.
type Config struct {
	BaseURL string
	Model   string

	// MaxConcurrent caps in-flight embedding requests. Default 5.
	MaxConcurrent int

	// TruncateRunes is the per-chunk character budget. Default 2048.
	TruncateRunes int

	// RequestTimeout bounds each embedding request. Default 60s.
	RequestTimeout time.Duration

	// RequestsPerSecond smooths outbound bursts. Zero disables the
	// limiter; the semaphore still caps concurrency.
	RequestsPerSecond float64
}

// Client embeds chunks and queries. Safe for concurrent use.
type Client struct {
	model         string
	maxConcurrent int
	truncateRunes int
	timeout       time.Duration
	limiter       *rate.Limiter
	keyring       *llm.Keyring
	policy        retry.Policy
	logger        *slog.Logger
	newClient     func(apiKey string) embeddingAPI
}

// New creates an embedding Client.
func New(cfg Config, keyring *llm.Keyring, policy retry.Policy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.TruncateRunes <= 0 {
		cfg.TruncateRunes = defaultTruncateRunes
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrent)
	}
	return &Client{
		model:         cfg.Model,
		maxConcurrent: cfg.MaxConcurrent,
		truncateRunes: cfg.TruncateRunes,
		timeout:       cfg.RequestTimeout,
		limiter:       limiter,
		keyring:       keyring,
		policy:        policy,
		logger:        logger,
		newClient: func(apiKey string) embeddingAPI {
			return llm.NewAPIClient(cfg.BaseURL, apiKey)
		},
	}
}

// EmbedChunks embeds every chunk concurrently and returns the successful
// subset in original chunk order. Metadata.ChunkIndex carries each
// chunk's position in the input, so gaps identify the failures. Chunk
// failures never propagate; only the aggregate success rate is logged.
func (c *Client) EmbedChunks(ctx context.Context, chunks []string, ref ChunkRef) ([]Embedded, error) {
	if ref.UserID == "" {
		return nil, fault.Validationf("user id is required")
	}
	if ref.DocID == "" {
		return nil, fault.Validationf("doc id is required")
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	slots := make([]*Embedded, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for i, text := range chunks {
		g.Go(func() error {
			vec, err := c.embedOne(gctx, text)
			if err != nil {
				c.logger.Warn("chunk embedding failed",
					"doc_id", ref.DocID, "chunk_index", i, "error", err)
				return nil
			}
			slots[i] = &Embedded{
				Vector: vec,
				Metadata: Metadata{
					UserID:      ref.UserID,
					DocID:       ref.DocID,
					DocType:     ref.DocType,
					ChunkIndex:  i,
					ChunkText:   text,
					ChunkLength: len(text),
				},
			}
			return nil
		})
	}
	// Per-chunk errors are swallowed above; Wait only fails on context
	// cancellation of the whole batch.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Embedded, 0, len(chunks))
	for _, e := range slots {
		if e != nil {
			out = append(out, *e)
		}
	}
	c.logger.Info("embedding batch complete",
		"doc_id", ref.DocID,
		"requested", len(chunks),
		"succeeded", len(out))
	return out, nil
}

// EmbedQuery embeds a single query string for the read path.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fault.Validationf("query text is empty")
	}
	vec, err := c.embedOne(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	input := truncateAtWord(text, c.truncateRunes)

	var vec []float32
	err := c.policy.Do(ctx, "embedding", func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fault.Transient(err)
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		client := c.newClient(c.keyring.Next())
		resp, err := client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: []string{input},
			Model: openai.EmbeddingModel(c.model),
		})
		if err != nil {
			return llm.Classify(err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return fault.Permanent(fmt.Errorf("embedding response is empty"))
		}
		vec = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// truncateAtWord cuts text to at most limit runes, trimming back to the
// previous word boundary when one exists inside the window.
func truncateAtWord(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := limit
	for i := limit; i > 0; i-- {
		if runes[i-1] == ' ' {
			cut = i - 1
			break
		}
	}
	if cut == 0 {
		cut = limit
	}
	return strings.TrimSpace(string(runes[:cut]))
}
