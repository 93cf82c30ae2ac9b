package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL is how long cached metadata stays valid.
const defaultTTL = time.Hour

// KV is the slice of the Redis client this package consumes. Satisfied by
// *redis.Client; tests use fakes built from redis.NewStringResult and
// friends.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Lookup is the store dependency of the cache. *Store satisfies it.
type Lookup interface {
	Metadata(ctx context.Context, docID string, docType DocType) (Doc, error)
	TypesByIDs(ctx context.Context, docIDs []string, userID string) (map[string]DocType, error)
}

// Cache is a read-through metadata cache. The cache is an optimization
// only: every key-value failure degrades to a database read, and a failed
// write-back is logged and forgotten rather than re-verified.
type Cache struct {
	kv     KV
	store  Lookup
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a Cache. A non-positive ttl falls back to one hour.
func NewCache(kv KV, store Lookup, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{kv: kv, store: store, ttl: ttl, logger: logger}
}

// cacheKey builds the canonical key for one document's metadata.
func cacheKey(docID string, docType DocType) string {
	return fmt.Sprintf("doc:%s:%s:metadata", docType, docID)
}

// Get returns the document's metadata, reading through to the store on a
// miss. A cache entry that fails to decode counts as corruption: it is
// logged, treated as a miss, and overwritten by the fresh value.
func (c *Cache) Get(ctx context.Context, docID string, docType DocType) (Doc, error) {
	key := cacheKey(docID, docType)

	raw, err := c.kv.Get(ctx, key).Result()
	switch {
	case err == nil:
		var doc Doc
		if jsonErr := json.Unmarshal([]byte(raw), &doc); jsonErr == nil {
			return doc, nil
		}
		c.logger.Warn("corrupt cache entry, treating as miss", "key", key)
	case err != redis.Nil:
		c.logger.Warn("cache read failed, falling back to store", "key", key, "error", err)
	}

	doc, err := c.store.Metadata(ctx, docID, docType)
	if err != nil {
		return Doc{}, err
	}

	if payload, err := json.Marshal(doc); err == nil {
		if err := c.kv.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			// Best effort: the store already answered.
			c.logger.Warn("cache write-back failed", "key", key, "error", err)
		}
	}
	return doc, nil
}

// Invalidate drops the cached entry for one document.
func (c *Cache) Invalidate(ctx context.Context, docID string, docType DocType) error {
	key := cacheKey(docID, docType)
	if err := c.kv.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// MetadataByIDs resolves ownership and type for the given ids, then loads
// each owned document's metadata through the cache. Ids the user does not
// own are dropped; a document whose metadata load fails is logged and
// skipped so one bad row cannot empty a whole result page.
func (c *Cache) MetadataByIDs(ctx context.Context, docIDs []string, userID string) (map[string]Doc, error) {
	types, err := c.store.TypesByIDs(ctx, docIDs, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve document types: %w", err)
	}

	docs := make(map[string]Doc, len(types))
	for id, t := range types {
		doc, err := c.Get(ctx, id, t)
		if err != nil {
			c.logger.Warn("metadata load failed, dropping document",
				"doc_id", id, "type", t.String(), "error", err)
			continue
		}
		docs[id] = doc
	}
	return docs, nil
}
