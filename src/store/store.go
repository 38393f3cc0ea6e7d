package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrNotFound is returned when a document does not exist in its collection.
var ErrNotFound = errors.New("document not found")

// Update is a partial update against a single document. Set overwrites
// scalar fields; AddToSet and Pull carry the array-union / array-remove
// semantics used for back-reference fields, keyed by field name.
type Update struct {
	Set      map[string]interface{}
	AddToSet map[string]string
	Pull     map[string]string
}

// Empty reports whether the update carries no operations at all.
func (u Update) Empty() bool {
	return len(u.Set) == 0 && len(u.AddToSet) == 0 && len(u.Pull) == 0
}

// DocumentStore is the boundary to the backing document database.
// Each write is atomic at the single-document level; there is no
// multi-document transaction spanning both sides of a relation.
type DocumentStore interface {
	// GetDocument loads one document by collection and id. Returns
	// ErrNotFound if it does not exist.
	GetDocument(ctx context.Context, collection, id string) (bson.M, error)

	// InsertDocument creates a new document. The document must carry
	// its id in the _id field.
	InsertDocument(ctx context.Context, collection string, doc bson.M) error

	// UpdateDocument applies a partial update to one document. Returns
	// ErrNotFound if the document does not exist.
	UpdateDocument(ctx context.Context, collection, id string, update Update) error

	// DeleteDocument removes one document. Returns ErrNotFound if the
	// document does not exist.
	DeleteDocument(ctx context.Context, collection, id string) error

	// QueryWhere returns every document in the collection whose field
	// equals value.
	QueryWhere(ctx context.Context, collection, field string, value interface{}) ([]bson.M, error)

	// Close releases the underlying connection, if any.
	Close(ctx context.Context) error
}

// DocumentID extracts the string id of a raw document.
func DocumentID(doc bson.M) string {
	if doc == nil {
		return ""
	}
	if id, ok := doc["_id"].(string); ok {
		return id
	}
	return ""
}

// StringField reads a string field from a raw document, treating a
// missing field, a null and an empty string all as "".
func StringField(doc bson.M, field string) string {
	if doc == nil {
		return ""
	}
	if v, ok := doc[field].(string); ok {
		return v
	}
	return ""
}

// StringArrayField reads an array-of-ids field from a raw document.
// The mongo driver decodes arrays as bson.A, the in-memory store keeps
// []string; both shapes are handled.
func StringArrayField(doc bson.M, field string) []string {
	if doc == nil {
		return nil
	}
	switch v := doc[field].(type) {
	case []string:
		return v
	case bson.A:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
