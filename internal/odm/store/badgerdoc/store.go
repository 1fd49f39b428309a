// Package badgerdoc stores documents as JSON values in an embedded Badger database under
// "collection/key" keys.
package badgerdoc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Config holds Badger store configuration
type Config struct {
	// Path is the database directory; ignored when InMemory is set
	Path string
	// InMemory keeps everything in memory
	InMemory bool
	// MaxRetries bounds the retries of a transaction that conflicted
	MaxRetries int
}

// Store is a Badger-backed store.Store
type Store struct {
	db         *badger.DB
	maxRetries int
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database described by config
func Open(config Config) (*Store, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	retries := config.MaxRetries
	if retries <= 0 {
		retries = 10
	}
	return &Store{db: db, maxRetries: retries}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func prefix(collection string) []byte {
	return []byte(collection + "/")
}

func docKey(collection string, key interface{}) []byte {
	return []byte(collection + "/" + store.KeyString(key))
}

// update runs fn in a read-write transaction, retrying on conflicts
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for i := 0; i < s.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return badger.ErrConflict
}

func readDoc(item *badger.Item) (store.Document, error) {
	var doc store.Document
	err := item.Value(func(val []byte) error {
		var err error
		doc, err = store.DecodeJSON(val)
		return err
	})
	return doc, err
}

// Insert stores a new document
func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	key := store.KeyOf(doc)
	if store.KeyString(key) == "" {
		return store.ErrMissingKey
	}
	body, err := store.EncodeJSON(doc)
	if err != nil {
		return err
	}
	k := docKey(collection, key)

	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return fmt.Errorf("%w: %s/%s", store.ErrDuplicateKey, collection, store.KeyString(key))
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, body)
	})
}

// Get returns the document with the given key
func (s *Store) Get(ctx context.Context, collection string, key interface{}) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc store.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, key))
		if err != nil {
			return err
		}
		doc, err = readDoc(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, store.KeyString(key))
	}
	return doc, err
}

// GetMany returns the documents that exist among keys
func (s *Store) GetMany(ctx context.Context, collection string, keys []interface{}) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []store.Document
	seen := make(map[string]bool, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			ks := store.KeyString(k)
			if seen[ks] {
				continue
			}
			seen[ks] = true

			item, err := txn.Get(docKey(collection, k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			doc, err := readDoc(item)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}

// Find iterates the collection prefix and returns the matching documents in key order
func (s *Store) Find(ctx context.Context, collection string, cond store.Condition) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []store.Document
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := prefix(collection)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := readDoc(it.Item())
			if err != nil {
				return err
			}
			if cond.Match(doc) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	return docs, err
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
	var n int64
	k := docKey(collection, key)
	err := s.update(ctx, func(txn *badger.Txn) error {
		n = 0
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		n = 1
		return txn.Delete(k)
	})
	return n, err
}

// mutate runs m against the stored document inside one transaction
func (s *Store) mutate(ctx context.Context, collection string, key interface{}, m store.Mutation) (bool, interface{}, error) {
	var (
		found  bool
		result interface{}
	)
	k := docKey(collection, key)
	err := s.update(ctx, func(txn *badger.Txn) error {
		found, result = false, nil

		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		doc, err := readDoc(item)
		if err != nil {
			return err
		}
		changed, res, err := m(doc)
		if err != nil {
			return err
		}
		result = res
		if !changed {
			return nil
		}
		body, err := store.EncodeJSON(doc)
		if err != nil {
			return err
		}
		return txn.Set(k, body)
	})
	if err != nil {
		return found, nil, err
	}
	return found, result, nil
}
