package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore is a thread-safe, in-memory Store used by unit tests and by
// the server when no DATABASE_URL is configured. Documents are deep-copied
// on every read and write so callers never share state with the store.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Doc
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Doc)}
}

func (s *MemoryStore) coll(collection string) map[string]Doc {
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]Doc)
		s.collections[collection] = c
	}
	return c
}

func copyDoc(d Doc) Doc {
	if d == nil {
		return nil
	}
	raw, _ := json.Marshal(d)
	var cp Doc
	_ = json.Unmarshal(raw, &cp)
	return cp
}

func (s *MemoryStore) Get(_ context.Context, collection, key string) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.coll(collection)[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(d), nil
}

func (s *MemoryStore) Set(_ context.Context, collection, key string, doc Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(collection)[key] = copyDoc(doc)
	return nil
}

func (s *MemoryStore) Create(_ context.Context, collection, key string, doc Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if _, ok := c[key]; ok {
		return ErrExists
	}
	c[key] = copyDoc(doc)
	return nil
}

func (s *MemoryStore) Merge(_ context.Context, collection, key string, fields Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	d, ok := c[key]
	if !ok {
		d = Doc{}
	}
	for k, v := range copyDoc(fields) {
		d[k] = v
	}
	c[key] = d
	return nil
}

func (s *MemoryStore) Update(_ context.Context, collection, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	var current Doc
	if d, ok := c[key]; ok {
		current = copyDoc(d)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	c[key] = copyDoc(next)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, collection, key, field string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	d, ok := c[key]
	if !ok {
		d = Doc{}
		c[key] = d
	}
	d[field] = asFloat(d[field]) + delta
	return nil
}

func (s *MemoryStore) UnionAppend(_ context.Context, collection, key, field string, values ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	d, ok := c[key]
	if !ok {
		d = Doc{}
		c[key] = d
	}
	existing, _ := d[field].([]interface{})
	for _, v := range values {
		nv := normalize(v)
		if !containsValue(existing, nv) {
			existing = append(existing, nv)
		}
	}
	d[field] = existing
	return nil
}

func (s *MemoryStore) RangeQuery(_ context.Context, collection, startKey, endKey string) ([]KeyedDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	keys := make([]string, 0, len(c))
	for k := range c {
		if k >= startKey && k <= endKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]KeyedDoc, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyedDoc{Key: k, Doc: copyDoc(c[k])})
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coll(collection), key)
	return nil
}

// normalize round-trips a value through JSON so that stored values compare
// consistently regardless of the caller's concrete Go type.
func normalize(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func containsValue(arr []interface{}, v interface{}) bool {
	want, err := json.Marshal(v)
	if err != nil {
		return false
	}
	for _, e := range arr {
		got, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if string(got) == string(want) {
			return true
		}
	}
	return false
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
