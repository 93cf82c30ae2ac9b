package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
)

// Manager owns the write path of the index: lazy per-user collection
// creation, filtered-payload upserts, and wholesale purge.
type Manager struct {
	collections CollectionsAPI
	points      PointsAPI
	logger      *slog.Logger
}

// NewManager creates a Manager over the given index clients.
func NewManager(collections CollectionsAPI, points PointsAPI, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{collections: collections, points: points, logger: logger}
}

// EnsureCollection creates the user's collection if it does not exist and
// returns its name. Racing creations are tolerated: an "already exists"
// rejection from the index counts as success. The doc_id payload index is
// (re)ensured on every call, which the index treats as a no-op when
// present.
func (m *Manager) EnsureCollection(ctx context.Context, userID string, vectorSize int) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("ensure collection: user id is required")
	}
	if vectorSize <= 0 {
		return "", fmt.Errorf("ensure collection: vector size must be positive, got %d", vectorSize)
	}
	name := CollectionName(userID)

	resp, err := m.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return "", fmt.Errorf("collection existence probe: %w", classifyIndexError(err))
	}

	if !resp.GetResult().GetExists() {
		_, err = m.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(vectorSize),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return "", fmt.Errorf("create collection %s: %w", name, classifyIndexError(err))
		}
		if err == nil {
			m.logger.Info("created collection", "collection", name)
		}
	}

	// Keyword index on doc_id keeps future per-document filters cheap.
	if _, err := m.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      "doc_id",
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	}); err != nil {
		m.logger.Warn("doc_id index creation rejected, may already exist",
			"collection", name, "error", err)
	}

	return name, nil
}

// Upsert stores points into the owning user's collection, creating it on
// first use. Payloads carry only the fixed field set; anything else
// attached upstream is dropped to keep the index schema stable.
func (m *Manager) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return fmt.Errorf("upsert: no points provided")
	}
	userID := points[0].UserID
	dim := len(points[0].Vector)

	name, err := m.EnsureCollection(ctx, userID, dim)
	if err != nil {
		return err
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewString()}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: p.Vector},
			}},
			Payload: map[string]*pb.Value{
				"user_id":      {Kind: &pb.Value_StringValue{StringValue: p.UserID}},
				"doc_id":       {Kind: &pb.Value_StringValue{StringValue: p.DocID}},
				"chunk_index":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.ChunkIndex)}},
				"chunk_text":   {Kind: &pb.Value_StringValue{StringValue: p.ChunkText}},
				"chunk_length": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(len(p.ChunkText))}},
			},
		}
	}

	if _, err := m.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(structs), name, classifyIndexError(err))
	}

	m.logger.Info("stored embeddings", "collection", name, "points", len(structs), "dimension", dim)
	return nil
}

// DeleteCollection removes the user's entire collection. Returns
// ErrCollectionNotFound when the user never had one.
func (m *Manager) DeleteCollection(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("delete collection: user id is required")
	}
	name := CollectionName(userID)

	resp, err := m.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("collection existence probe: %w", classifyIndexError(err))
	}
	if !resp.GetResult().GetExists() {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	if _, err := m.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, classifyIndexError(err))
	}
	m.logger.Info("deleted collection", "collection", name)
	return nil
}
