package store

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"tourcraft/src/helpers"
)

// MemoryStore implements DocumentStore with plain in-process maps. It
// backs the --storage=memory mode and the package tests. Semantics
// mirror the mongo store: per-document atomic updates, ErrNotFound on
// missing documents, AddToSet/Pull applied idempotently.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]bson.M
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]bson.M),
	}
}

func (s *MemoryStore) GetDocument(ctx context.Context, collection, id string) (bson.M, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return CopyDocument(doc), nil
}

func (s *MemoryStore) InsertDocument(ctx context.Context, collection string, doc bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]bson.M)
	}
	s.collections[collection][DocumentID(doc)] = CopyDocument(doc)
	return nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, collection, id string, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}

	for field, value := range update.Set {
		doc[field] = value
	}
	for field, value := range update.AddToSet {
		doc[field] = helpers.AddIDIfAbsent(StringArrayField(doc, field), value)
	}
	for field, value := range update.Pull {
		doc[field] = helpers.RemoveID(StringArrayField(doc, field), value)
	}
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) QueryWhere(ctx context.Context, collection, field string, value interface{}) ([]bson.M, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []bson.M
	for _, doc := range s.collections[collection] {
		if doc[field] == value {
			docs = append(docs, CopyDocument(doc))
		}
	}
	return docs, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// CopyDocument makes a shallow copy with array fields duplicated, so a
// caller mutating a returned document cannot corrupt the stored one.
func CopyDocument(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if ids, ok := v.([]string); ok {
			out[k] = append([]string(nil), ids...)
			continue
		}
		out[k] = v
	}
	return out
}
