package vector

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/retry"
)

const (
	// defaultTopK replaces invalid top-k requests.
	defaultTopK = 10

	// maxTopK bounds search cost regardless of what callers ask for.
	maxTopK = 100
)

// Searcher is the read path over the index. Searches prioritize
// availability: after validation, every failure mode degrades to an
// empty result instead of an error.
//
// Collection existence is probed through a process-wide cache so the hot
// path skips one round trip per query. Only positive answers are cached;
// the cache is dropped whenever the index responds unexpectedly, since
// that is how a concurrently deleted collection surfaces.
type Searcher struct {
	collections CollectionsAPI
	points      PointsAPI
	policy      retry.Policy
	logger      *slog.Logger

	mu     sync.Mutex
	exists map[string]struct{}
}

// NewSearcher creates a Searcher.
func NewSearcher(collections CollectionsAPI, points PointsAPI, policy retry.Policy, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		collections: collections,
		points:      points,
		policy:      policy,
		logger:      logger,
		exists:      make(map[string]struct{}),
	}
}

// Search returns the user's top-k most similar chunks, ordered by
// descending score. Validation failures are returned as errors; service
// failures degrade to an empty result.
func (s *Searcher) Search(ctx context.Context, queryVector []float32, userID string, topK int) ([]Hit, error) {
	if len(queryVector) == 0 {
		return nil, fault.Validationf("query vector is empty")
	}
	for i, v := range queryVector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fault.Validationf("query vector component %d is not finite", i)
		}
	}
	if userID == "" {
		return nil, fault.Validationf("user id is required")
	}
	if topK < 1 {
		s.logger.Warn("invalid top_k, using default", "top_k", topK, "default", defaultTopK)
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	name := CollectionName(userID)
	ok, err := s.collectionExists(ctx, name)
	if err != nil {
		s.logger.Error("collection existence probe failed", "collection", name, "error", err)
		return []Hit{}, nil
	}
	if !ok {
		s.logger.Warn("no collection for user, returning empty result", "collection", name)
		return []Hit{}, nil
	}

	var resp *pb.SearchResponse
	err = s.policy.Do(ctx, "vector search", func(ctx context.Context) error {
		r, err := s.points.Search(ctx, &pb.SearchPoints{
			CollectionName: name,
			Vector:         queryVector,
			Limit:          uint64(topK),
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			if isUnexpectedResponse(err) {
				s.invalidateExistenceCache()
			}
			return classifyIndexError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		// Read paths trade completeness for availability.
		s.logger.Error("search failed after retries, returning empty result",
			"collection", name, "error", err)
		return []Hit{}, nil
	}

	return s.coerceHits(resp.GetResult(), userID), nil
}

// collectionExists answers through the positive-result cache.
func (s *Searcher) collectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	_, cached := s.exists[name]
	s.mu.Unlock()
	if cached {
		return true, nil
	}

	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return false, classifyIndexError(err)
	}
	if resp.GetResult().GetExists() {
		s.mu.Lock()
		s.exists[name] = struct{}{}
		s.mu.Unlock()
		return true, nil
	}
	return false, nil
}

func (s *Searcher) invalidateExistenceCache() {
	s.mu.Lock()
	s.exists = make(map[string]struct{})
	s.mu.Unlock()
	s.logger.Warn("collection existence cache invalidated")
}

// coerceHits defensively converts raw scored points: scores become finite
// floats (0.0 when absent), doc ids become strings, chunk indexes become
// ints, and hits with empty text are dropped. The valid/total ratio is
// logged for observability.
func (s *Searcher) coerceHits(points []*pb.ScoredPoint, userID string) []Hit {
	hits := make([]Hit, 0, len(points))
	for _, pt := range points {
		payload := pt.GetPayload()
		if payload == nil {
			continue
		}

		text := payload["chunk_text"].GetStringValue()
		if text == "" {
			continue
		}

		score := float64(pt.GetScore())
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = 0.0
		}

		docID := payload["doc_id"].GetStringValue()
		if docID == "" {
			// Tolerate integer-typed ids written by older ingesters.
			if n := payload["doc_id"].GetIntegerValue(); n != 0 {
				docID = strconv.FormatInt(n, 10)
			}
		}

		hits = append(hits, Hit{
			Text:       text,
			Score:      score,
			DocID:      docID,
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		})
	}

	s.logger.Info("search results coerced",
		"user_id", userID, "valid", len(hits), "total", len(points))
	return hits
}

// Stats describes a user's collection.
type Stats struct {
	Exists      bool
	PointsCount uint64
}

// CollectionStats reports basic statistics for a user's collection.
func (s *Searcher) CollectionStats(ctx context.Context, userID string) (Stats, error) {
	name := CollectionName(userID)
	ok, err := s.collectionExists(ctx, name)
	if err != nil || !ok {
		return Stats{}, err
	}
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return Stats{}, classifyIndexError(err)
	}
	return Stats{
		Exists:      true,
		PointsCount: info.GetResult().GetPointsCount(),
	}, nil
}
