// Package redisdoc stores documents as JSON strings in Redis. Each collection keeps a set of
// its keys; single-document mutations run as WATCH/MULTI optimistic transactions.
package redisdoc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Config holds Redis store configuration
type Config struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Prefix is prepended to every key
	Prefix string
	// MaxRetries bounds the retries of a mutation whose document changed concurrently
	MaxRetries int
}

// DefaultConfig returns a default Redis store configuration
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		Prefix:     "docmap:",
		MaxRetries: 10,
	}
}

// Store is a Redis-backed store.Store
type Store struct {
	client *redis.Client
	config Config
}

var _ store.Store = (*Store)(nil)

// ErrConflict is returned when a mutation kept losing optimistic transaction races
var ErrConflict = errors.New("document changed concurrently")

// New connects to Redis and verifies the connection
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, config), nil
}

// NewWithClient creates a store over an existing client
func NewWithClient(client *redis.Client, config Config) *Store {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Store{client: client, config: config}
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) docKey(collection string, key interface{}) string {
	return s.config.Prefix + collection + ":" + store.KeyString(key)
}

func (s *Store) indexKey(collection string) string {
	return s.config.Prefix + collection + ":_keys"
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

	ok, err := s.client.SetNX(ctx, s.docKey(collection, key), body, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", store.ErrDuplicateKey, collection, store.KeyString(key))
	}
	return s.client.SAdd(ctx, s.indexKey(collection), store.KeyString(key)).Err()
}

// Get returns the document with the given key
func (s *Store) Get(ctx context.Context, collection string, key interface{}) (store.Document, error) {
	body, err := s.client.Get(ctx, s.docKey(collection, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, store.KeyString(key))
		}
		return nil, err
	}
	return store.DecodeJSON(body)
}

// GetMany returns the documents that exist among keys
func (s *Store) GetMany(ctx context.Context, collection string, keys []interface{}) ([]store.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(keys))
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		ks := store.KeyString(k)
		if seen[ks] {
			continue
		}
		seen[ks] = true
		redisKeys = append(redisKeys, s.docKey(collection, k))
	}
	return s.mget(ctx, redisKeys)
}

func (s *Store) mget(ctx context.Context, redisKeys []string) ([]store.Document, error) {
	if len(redisKeys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(values))
	for _, v := range values {
		body, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := store.DecodeJSON([]byte(body))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Find scans the collection index and returns the matching documents ordered by key
func (s *Store) Find(ctx context.Context, collection string, cond store.Condition) ([]store.Document, error) {
	members, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)

	redisKeys := make([]string, len(members))
	for i, m := range members {
		redisKeys[i] = s.config.Prefix + collection + ":" + m
	}
	docs, err := s.mget(ctx, redisKeys)
	if err != nil {
		return nil, err
	}
	return store.Filter(docs, cond), nil
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

// Delete removes a document and its index entry
func (s *Store) Delete(ctx context.Context, collection string, key interface{}) (int64, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.docKey(collection, key))
		pipe.SRem(ctx, s.indexKey(collection), store.KeyString(key))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return del.Val(), nil
}

// mutate runs m against the stored document inside a WATCH/MULTI transaction, retrying
// when the document changed between read and write
func (s *Store) mutate(ctx context.Context, collection string, key interface{}, m store.Mutation) (bool, interface{}, error) {
	docKey := s.docKey(collection, key)

	var (
		found  bool
		result interface{}
	)
	txf := func(tx *redis.Tx) error {
		found, result = false, nil

		body, err := tx.Get(ctx, docKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		doc, err := store.DecodeJSON(body)
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
		next, err := store.EncodeJSON(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, docKey, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < s.config.MaxRetries; i++ {
		err := s.client.Watch(ctx, txf, docKey)
		if err == nil {
			return found, result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return found, nil, err
	}
	return false, nil, fmt.Errorf("%w: %s", ErrConflict, docKey)
}
