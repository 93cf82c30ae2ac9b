// Package vector owns the per-user namespaces in the Qdrant index: lazy
// collection creation, filtered-payload upserts, wholesale purge, and the
// availability-first similarity search path.
package vector

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/tutorstack/retrieval/internal/fault"
)

// collectionPrefix namespaces user collections inside the shared index.
const collectionPrefix = "user_docs_"

// CollectionName derives a user's collection name. It is a pure function
// of the user id and the only way collection names are ever produced.
func CollectionName(userID string) string {
	return collectionPrefix + userID
}

// ErrCollectionNotFound is returned when an operation targets a user who
// has no collection yet.
var ErrCollectionNotFound = errors.New("collection does not exist")

// Point is one embedded chunk ready for upsert. Point ids are generated
// fresh at upsert time; re-ingesting a document therefore adds new points
// rather than replacing old ones (see DESIGN.md).
type Point struct {
	Vector     []float32
	UserID     string
	DocID      string
	ChunkIndex int
	ChunkText  string
}

// Hit is one coerced search result. Score is always finite; Text is never
// empty (empty-text hits are dropped during coercion).
type Hit struct {
	Text       string
	Score      float64
	DocID      string
	ChunkIndex int
}

// CollectionsAPI is the slice of the Qdrant collections service this
// package consumes. Satisfied by pb.CollectionsClient; tests use fakes.
type CollectionsAPI interface {
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
}

// PointsAPI is the slice of the Qdrant points service this package
// consumes.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// Conn bundles the gRPC connection and the two service clients.
type Conn struct {
	conn        *grpc.ClientConn
	Collections CollectionsAPI
	Points      PointsAPI
}

// Dial connects to the Qdrant index service.
func Dial(host string, port int) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Conn{
		conn:        conn,
		Collections: pb.NewCollectionsClient(conn),
		Points:      pb.NewPointsClient(conn),
	}, nil
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// classifyIndexError maps gRPC failures from the index onto the fault
// taxonomy. Connection loss, timeouts and unexpected responses are all
// retryable on the read path.
func classifyIndexError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fault.Transient(err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted,
		codes.Unknown, codes.Internal, codes.DataLoss:
		return fault.Transient(err)
	case codes.ResourceExhausted:
		return fault.RateLimited(err)
	default:
		return fault.Permanent(err)
	}
}

// isUnexpectedResponse reports whether the index answered in a shape we
// do not trust. Cached existence answers are dropped when this fires,
// since a deleted collection surfaces exactly this way.
func isUnexpectedResponse(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unknown, codes.Internal, codes.DataLoss:
		return true
	default:
		return false
	}
}
