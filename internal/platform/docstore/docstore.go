// Package docstore defines the transactional document repository the ledger
// core runs against. The store exposes exactly the primitives the domain
// layer is allowed to assume: keyed reads and writes, a conditional create,
// partial merge, an atomic read-modify-write, numeric increment, set-union
// append, and a range query by key prefix. Two implementations exist: an
// in-memory store for tests and development, and a PostgreSQL/JSONB store.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("docstore: document already exists")
)

// Doc is the wire form of one stored document.
type Doc map[string]interface{}

// UpdateFunc transforms a document inside an atomic read-modify-write.
// The input is nil when the document does not exist yet. Returning a nil
// document with a nil error leaves the store untouched.
type UpdateFunc func(Doc) (Doc, error)

// Store is the abstract transactional document repository. Implementations
// must make Increment and UnionAppend atomic with respect to concurrent
// writers, and Update must observe and replace the latest committed state.
type Store interface {
	Get(ctx context.Context, collection, key string) (Doc, error)
	Set(ctx context.Context, collection, key string, doc Doc) error
	// Create writes the document only if the key is absent; ErrExists otherwise.
	Create(ctx context.Context, collection, key string, doc Doc) error
	// Merge upserts the given fields into the document, leaving others intact.
	Merge(ctx context.Context, collection, key string, fields Doc) error
	// Update applies fn atomically against the latest state of the document.
	Update(ctx context.Context, collection, key string, fn UpdateFunc) error
	// Increment atomically adds delta to a numeric top-level field,
	// creating the document or the field (from zero) as needed.
	Increment(ctx context.Context, collection, key, field string, delta float64) error
	// UnionAppend atomically appends values to an array field, skipping
	// values already present. Presence is value equality after JSON
	// normalization.
	UnionAppend(ctx context.Context, collection, key, field string, values ...interface{}) error
	// RangeQuery returns all documents whose key is within [startKey, endKey],
	// ordered by key.
	RangeQuery(ctx context.Context, collection, startKey, endKey string) ([]KeyedDoc, error)
	Delete(ctx context.Context, collection, key string) error
}

// KeyedDoc pairs a document with its key for range query results.
type KeyedDoc struct {
	Key string
	Doc Doc
}

// PrefixRange returns the [start, end] key bounds covering every key that
// begins with prefix. The upper bound relies on keys staying within the
// Basic Multilingual Plane, which holds for clinic ids, dates and sanitized
// CJK patient names.
func PrefixRange(prefix string) (string, string) {
	return prefix, prefix + "￿"
}

// Encode converts a typed value into its document form via JSON.
func Encode(v interface{}) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return d, nil
}

// Decode converts a document into a typed value via JSON.
func Decode(d Doc, dest interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
