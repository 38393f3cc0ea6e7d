package store

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type cacheKey struct {
	collection string
	id         string
}

type cacheEntry struct {
	doc       bson.M
	expiresAt time.Time
}

// DocumentCache is a TTL cache of documents keyed by (collection, id).
// It is advisory only: entries are never treated as authoritative and
// staleness is bounded by the TTL, not by invalidation messages. There
// is no eviction beyond expiry.
type DocumentCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
}

// NewDocumentCache creates a cache whose entries expire after ttl.
func NewDocumentCache(ttl time.Duration) *DocumentCache {
	return &DocumentCache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached document for (collection, id), or ok=false if
// the entry is missing or past its TTL.
func (c *DocumentCache) Get(collection, id string) (bson.M, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey{collection, id}]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return CopyDocument(entry.doc), true
}

// Set stores a document under (collection, id) with the default TTL.
func (c *DocumentCache) Set(collection, id string, doc bson.M) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{collection, id}] = cacheEntry{
		doc:       CopyDocument(doc),
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops the entry for (collection, id) if present.
func (c *DocumentCache) Invalidate(collection, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{collection, id})
}

// Len returns the number of entries, expired ones included.
func (c *DocumentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CachedStore layers a DocumentCache over another DocumentStore. Reads
// are served from the cache when fresh; every write goes through to the
// inner store and invalidates the local entry. Queries always bypass
// the cache since they cannot be validated per-document.
type CachedStore struct {
	inner  DocumentStore
	cache  *DocumentCache
	logger *zap.SugaredLogger
}

// NewCachedStore wraps inner with a read-through TTL cache.
func NewCachedStore(inner DocumentStore, ttl time.Duration, logger *zap.SugaredLogger) *CachedStore {
	return &CachedStore{
		inner:  inner,
		cache:  NewDocumentCache(ttl),
		logger: logger,
	}
}

func (s *CachedStore) GetDocument(ctx context.Context, collection, id string) (bson.M, error) {
	if doc, ok := s.cache.Get(collection, id); ok {
		return doc, nil
	}

	doc, err := s.inner.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(collection, id, doc)
	return doc, nil
}

func (s *CachedStore) InsertDocument(ctx context.Context, collection string, doc bson.M) error {
	return s.inner.InsertDocument(ctx, collection, doc)
}

func (s *CachedStore) UpdateDocument(ctx context.Context, collection, id string, update Update) error {
	err := s.inner.UpdateDocument(ctx, collection, id, update)
	// Invalidate even on failure; the write may have partially applied
	// before the error surfaced
	s.cache.Invalidate(collection, id)
	return err
}

func (s *CachedStore) DeleteDocument(ctx context.Context, collection, id string) error {
	err := s.inner.DeleteDocument(ctx, collection, id)
	s.cache.Invalidate(collection, id)
	return err
}

func (s *CachedStore) QueryWhere(ctx context.Context, collection, field string, value interface{}) ([]bson.M, error) {
	return s.inner.QueryWhere(ctx, collection, field, value)
}

func (s *CachedStore) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
