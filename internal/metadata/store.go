package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a document does not exist or is not owned
// by the requesting user.
var ErrNotFound = errors.New("document not found")

// Doc is the metadata record the retrieval path attaches to search hits.
type Doc struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Type      DocType   `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Querier is the slice of pgx this package consumes. Interfaces are
// defined by the consumer, not the provider; *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the relational source of truth for document metadata. Each
// document type lives in its own table; ownership is enforced on every
// query.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// NewStore creates a Store over the given querier.
func NewStore(db Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Metadata loads one document's metadata, scoped to its type's table.
// Returns ErrNotFound when no row matches.
func (s *Store) Metadata(ctx context.Context, docID string, docType DocType) (Doc, error) {
	if !docType.Valid() {
		return Doc{}, fmt.Errorf("metadata lookup: invalid document type %d", docType)
	}

	query := fmt.Sprintf(
		"SELECT id, user_id, title, created_at FROM %s WHERE id = $1", docType.Table())

	var doc Doc
	err := s.db.QueryRow(ctx, query, docID).Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Doc{}, fmt.Errorf("%w: %s (%s)", ErrNotFound, docID, docType)
	}
	if err != nil {
		return Doc{}, fmt.Errorf("load %s metadata for %s: %w", docType, docID, err)
	}
	doc.Type = docType
	return doc, nil
}

// TypesByIDs resolves which table each document id lives in, restricted to
// documents the user owns. Ids that match nothing (or belong to another
// user) are simply absent from the result, which is how the retrieval
// path drops hits it must not surface.
func (s *Store) TypesByIDs(ctx context.Context, docIDs []string, userID string) (map[string]DocType, error) {
	types := make(map[string]DocType, len(docIDs))
	if len(docIDs) == 0 {
		return types, nil
	}

	for _, t := range AllDocTypes {
		query := fmt.Sprintf(
			"SELECT id FROM %s WHERE id = ANY($1) AND user_id = $2", t.Table())

		rows, err := s.db.Query(ctx, query, docIDs, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s ids: %w", t, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s id: %w", t, err)
			}
			types[id] = t
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("resolve %s ids: %w", t, err)
		}
	}

	s.logger.Debug("resolved document types",
		"requested", len(docIDs), "resolved", len(types), "user_id", userID)
	return types, nil
}

// DocumentIDs lists every document the user owns, keyed by id. Used when
// purging a user to know which cache entries to drop.
func (s *Store) DocumentIDs(ctx context.Context, userID string) (map[string]DocType, error) {
	ids := make(map[string]DocType)
	for _, t := range AllDocTypes {
		query := fmt.Sprintf("SELECT id FROM %s WHERE user_id = $1", t.Table())

		rows, err := s.db.Query(ctx, query, userID)
		if err != nil {
			return nil, fmt.Errorf("list %s ids: %w", t, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s id: %w", t, err)
			}
			ids[id] = t
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("list %s ids: %w", t, err)
		}
	}
	return ids, nil
}

// DocumentCounts reports how many documents of each type the user owns.
func (s *Store) DocumentCounts(ctx context.Context, userID string) (map[DocType]int, error) {
	counts := make(map[DocType]int, len(AllDocTypes))
	for _, t := range AllDocTypes {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = $1", t.Table())

		var n int
		if err := s.db.QueryRow(ctx, query, userID).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}
