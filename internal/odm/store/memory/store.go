// Package memory provides an in-process document store. Documents are deep-copied on
// the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Store is a map-backed store.Store
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]store.Document
}

var _ store.Store = (*Store)(nil)

// New creates an empty memory store
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]store.Document),
	}
}

// Insert stores a new document
func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := store.KeyString(store.KeyOf(doc))
	if key == "" {
		return store.ErrMissingKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]store.Document)
		s.collections[collection] = coll
	}
	if _, exists := coll[key]; exists {
		return fmt.Errorf("%w: %s/%s", store.ErrDuplicateKey, collection, key)
	}
	coll[key] = doc.Clone()
	return nil
}

// Get returns a copy of the document with the given key
func (s *Store) Get(ctx context.Context, collection string, key interface{}) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][store.KeyString(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

// GetMany returns copies of the documents that exist among keys, in key order
func (s *Store) GetMany(ctx context.Context, collection string, keys []interface{}) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collections[collection]
	seen := make(map[string]bool, len(keys))
	var docs []store.Document
	for _, k := range keys {
		ks := store.KeyString(k)
		if seen[ks] {
			continue
		}
		seen[ks] = true
		if doc, ok := coll[ks]; ok {
			docs = append(docs, doc.Clone())
		}
	}
	return docs, nil
}

// Find returns copies of the matching documents ordered by key
func (s *Store) Find(ctx context.Context, collection string, cond store.Condition) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collections[collection]
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var docs []store.Document
	for _, k := range keys {
		if cond.Match(coll[k]) {
			docs = append(docs, coll[k].Clone())
		}
	}
	return docs, nil
}

// Update applies a set/unset delta
func (s *Store) Update(ctx context.Context, collection string, key interface{}, delta store.Delta) error {
	found, _, err := s.mutate(ctx, collection, key, store.ApplyDelta(delta))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, store.KeyString(key))
	}
	return nil
}

// SetAndReturnPrevious assigns field and returns its prior value
func (s *Store) SetAndReturnPrevious(ctx context.Context, collection string, key interface{}, field string, value interface{}) (interface{}, error) {
	_, prev, err := s.mutate(ctx, collection, key, store.SetField(field, value))
	return prev, err
}

// CompareAndSet assigns field when it currently equals expected
func (s *Store) CompareAndSet(ctx context.Context, collection string, key interface{}, field string, expected, value interface{}) (bool, error) {
	_, swapped, err := s.mutate(ctx, collection, key, store.CompareAndSetField(field, expected, value))
	if err != nil || swapped == nil {
		return false, err
	}
	return swapped.(bool), nil
}

// AddToSet appends value to an array field unless present
func (s *Store) AddToSet(ctx context.Context, collection string, key interface{}, field string, value interface{}) error {
	_, _, err := s.mutate(ctx, collection, key, store.AddToSetField(field, value))
	return err
}

// Pull removes value from an array field
func (s *Store) Pull(ctx context.Context, collection string, key interface{}, field string, value interface{}) error {
	_, _, err := s.mutate(ctx, collection, key, store.PullField(field, value))
	return err
}

// Delete removes a document
func (s *Store) Delete(ctx context.Context, collection string, key interface{}) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[collection]
	ks := store.KeyString(key)
	if _, ok := coll[ks]; !ok {
		return 0, nil
	}
	delete(coll, ks)
	return 1, nil
}

// Len returns the number of documents in a collection
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// mutate runs m against the stored document under the write lock. The mutation works
// on a copy that replaces the stored document only on success.
func (s *Store) mutate(ctx context.Context, collection string, key interface{}, m store.Mutation) (bool, interface{}, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ks := store.KeyString(key)
	doc, ok := s.collections[collection][ks]
	if !ok {
		return false, nil, nil
	}
	working := doc.Clone()
	changed, result, err := m(working)
	if err != nil {
		return true, nil, err
	}
	if changed {
		s.collections[collection][ks] = working
	}
	return true, result, nil
}
