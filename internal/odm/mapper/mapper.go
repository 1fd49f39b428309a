// Package mapper persists typed objects as documents and reconstructs them. Writes return
// a queue of reconciliation actions for related documents; reads return a queue of lazy
// resolutions for relationship fields. Callers execute or drain those queues.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/conduit-lang/docmap/internal/odm/codec"
	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/metrics"
	"github.com/conduit-lang/docmap/internal/odm/relationships"
	"github.com/conduit-lang/docmap/internal/odm/store"
	"github.com/conduit-lang/docmap/internal/odm/tracking"
)

var (
	// ErrInvalidTarget is returned when an argument is not a non-nil pointer to a struct
	ErrInvalidTarget = errors.New("target must be a non-nil pointer to a struct")

	// ErrKeyGeneration is returned when no key can be generated for a zero key
	ErrKeyGeneration = errors.New("cannot generate key")
)

// KeyGenerator returns a fresh key value of type t for an entity inserted without one
type KeyGenerator func(t reflect.Type) (interface{}, error)

// UUIDKeys generates uuid keys for uuid.UUID and string key properties
func UUIDKeys(t reflect.Type) (interface{}, error) {
	switch {
	case t == reflect.TypeOf(uuid.UUID{}):
		return uuid.New(), nil
	case t.Kind() == reflect.String:
		return reflect.ValueOf(uuid.NewString()).Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("%w: unsupported key type %s", ErrKeyGeneration, t)
}

// Mapper maps objects to documents in one store
type Mapper struct {
	store   store.Store
	cache   *meta.Cache
	codecs  *codec.Compiler
	logger  *zap.Logger
	metrics *metrics.Metrics
	keygen  KeyGenerator
	lazy    int

	mappings sync.Map // reflect.Type -> *Mapping
	group    singleflight.Group
}

// Option configures a Mapper
type Option func(*Mapper)

// WithCache sets the metadata cache. The default is meta.Default.
func WithCache(c *meta.Cache) Option {
	return func(m *Mapper) {
		if c != nil {
			m.cache = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mapper) {
		m.metrics = mt
	}
}

// WithKeyGenerator sets the generator used for zero keys on insert
func WithKeyGenerator(g KeyGenerator) Option {
	return func(m *Mapper) {
		if g != nil {
			m.keygen = g
		}
	}
}

// WithLazyConcurrency sets how many lazy resolutions Load runs at once
func WithLazyConcurrency(n int) Option {
	return func(m *Mapper) {
		m.lazy = n
	}
}

// New creates a mapper over s
func New(s store.Store, opts ...Option) *Mapper {
	m := &Mapper{
		store:  s,
		cache:  meta.Default,
		logger: zap.NewNop(),
		keygen: UUIDKeys,
		lazy:   4,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.codecs = codec.NewCompiler(m.cache)
	return m
}

// Store returns the underlying store
func (m *Mapper) Store() store.Store {
	return m.store
}

func (m *Mapper) actions() *relationships.ActionQueue {
	return relationships.NewActionQueue(m.logger, m.metrics)
}

func (m *Mapper) lazies() *relationships.LazyQueue {
	return relationships.NewLazyQueue(m.logger, m.metrics)
}

// target validates that obj is a non-nil pointer to a struct and returns its mapping
func (m *Mapper) target(obj interface{}) (reflect.Value, *Mapping, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("%w: got %T", ErrInvalidTarget, obj)
	}
	mp, err := m.Mapping(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, mp, nil
}

// Insert stores obj as a new document. A zero key is replaced by a generated one before
// the write. The returned queue links related documents when executed.
func (m *Mapper) Insert(ctx context.Context, obj interface{}) (q *relationships.ActionQueue, err error) {
	defer func(start time.Time) { m.metrics.Observe("insert", start, err) }(time.Now())

	v, mp, err := m.target(obj)
	if err != nil {
		return nil, err
	}
	kp := mp.Meta.Key()
	if kp.Get(v.Elem()).IsZero() {
		if kp.ReadOnly {
			return nil, fmt.Errorf("%w: %s key %s is read-only", ErrKeyGeneration, mp.Meta.Type, kp.Name)
		}
		gen, err := m.keygen(kp.Type)
		if err != nil {
			return nil, err
		}
		if err := kp.Set(v.Elem(), reflect.ValueOf(gen)); err != nil {
			return nil, err
		}
	}

	doc, err := mp.encode(v)
	if err != nil {
		return nil, err
	}
	if err := m.store.Insert(ctx, mp.Meta.Collection, doc); err != nil {
		return nil, err
	}
	key := store.KeyOf(doc)

	q = m.actions()
	for _, h := range mp.Handlers {
		actions, err := h.OnInsert(key, v)
		if err != nil {
			return nil, err
		}
		q.Add(actions...)
	}
	m.logger.Debug("inserted document",
		zap.String("collection", mp.Meta.Collection),
		zap.String("key", store.KeyString(key)),
		zap.Int("actions", q.Len()))
	return q, nil
}

// Get loads the document with key into obj. Relationship fields that need other
// documents are filled when the returned queue is drained. A conversion error leaves the
// fields that did decode in place.
func (m *Mapper) Get(ctx context.Context, obj interface{}, key interface{}) (q *relationships.LazyQueue, err error) {
	defer func(start time.Time) { m.metrics.Observe("get", start, err) }(time.Now())

	v, mp, err := m.target(obj)
	if err != nil {
		return nil, err
	}
	k, err := mp.keyValue(key)
	if err != nil {
		return nil, err
	}
	doc, err := m.store.Get(ctx, mp.Meta.Collection, k)
	if err != nil {
		return nil, err
	}

	q = m.lazies()
	convErr := m.load(mp, doc, v, q)
	if convErr != nil {
		return q, convErr
	}
	return q, nil
}

// load decodes doc into the struct v points to and queues its lookups. Conversion
// errors are returned after everything else was filled.
func (m *Mapper) load(mp *Mapping, doc store.Document, v reflect.Value, q *relationships.LazyQueue) error {
	ptr, convErr := mp.instantiate(doc)
	if !ptr.IsValid() {
		return convErr
	}
	v.Elem().Set(ptr.Elem())
	lazies, err := mp.relate(doc, v)
	if err != nil {
		return errors.Join(convErr, err)
	}
	q.Add(lazies...)
	return convErr
}

// Find loads every document matching cond into out, which must point to a slice of
// structs or struct pointers
func (m *Mapper) Find(ctx context.Context, out interface{}, cond store.Condition) (q *relationships.LazyQueue, err error) {
	defer func(start time.Time) { m.metrics.Observe("find", start, err) }(time.Now())

	sv := reflect.ValueOf(out)
	if sv.Kind() != reflect.Ptr || sv.IsNil() || sv.Elem().Kind() != reflect.Slice {
		return nil, fmt.Errorf("%w: find needs a pointer to a slice, got %T", ErrInvalidTarget, out)
	}
	slice := sv.Elem()
	elemType := slice.Type().Elem()
	pointers := elemType.Kind() == reflect.Ptr

	mp, err := m.Mapping(elemType)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.Find(ctx, mp.Meta.Collection, cond)
	if err != nil {
		return nil, err
	}

	result := reflect.MakeSlice(slice.Type(), len(docs), len(docs))
	slice.Set(result)
	q = m.lazies()
	var errs []error
	for i, doc := range docs {
		elem := slice.Index(i)
		var target reflect.Value
		if pointers {
			elem.Set(mp.Meta.New())
			target = elem
		} else {
			target = elem.Addr()
		}
		if err := m.load(mp, doc, target, q); err != nil {
			errs = append(errs, err)
		}
	}
	return q, errors.Join(errs...)
}

// Update writes the fields of obj that differ from the stored document. The returned
// queue reconciles relationship changes when executed.
func (m *Mapper) Update(ctx context.Context, obj interface{}) (q *relationships.ActionQueue, err error) {
	defer func(start time.Time) { m.metrics.Observe("update", start, err) }(time.Now())

	v, mp, err := m.target(obj)
	if err != nil {
		return nil, err
	}
	key, err := mp.key.Write(v)
	if err != nil {
		return nil, err
	}
	if key == nil || mp.Meta.Key().Get(v.Elem()).IsZero() {
		return nil, store.ErrMissingKey
	}

	stored, err := m.store.Get(ctx, mp.Meta.Collection, key)
	if err != nil {
		return nil, err
	}
	previous := make([][]interface{}, len(mp.Handlers))
	for i, h := range mp.Handlers {
		if previous[i], err = h.Linked(ctx, stored, key); err != nil {
			return nil, err
		}
	}

	doc, err := mp.encode(v)
	if err != nil {
		return nil, err
	}
	// unresolved relationship fields keep their stored keys
	for _, h := range mp.Handlers {
		if h.Stored() && !h.Loaded(v) {
			field := h.Property().Field
			if raw, ok := stored[field]; ok {
				doc[field] = raw
			}
		}
	}
	delta := tracking.NewChangeTracker(stored, doc, mp.nested...).Delta()
	if !delta.IsEmpty() {
		if err := m.store.Update(ctx, mp.Meta.Collection, key, delta); err != nil {
			return nil, err
		}
	}

	q = m.actions()
	for i, h := range mp.Handlers {
		actions, err := h.OnUpdate(previous[i], key, v)
		if err != nil {
			return nil, err
		}
		q.Add(actions...)
	}
	m.logger.Debug("updated document",
		zap.String("collection", mp.Meta.Collection),
		zap.String("key", store.KeyString(key)),
		zap.Int("set", len(delta.Set)),
		zap.Int("unset", len(delta.Unset)),
		zap.Int("actions", q.Len()))
	return q, nil
}

// Delete removes the document of obj
func (m *Mapper) Delete(ctx context.Context, obj interface{}) (*relationships.ActionQueue, error) {
	v, mp, err := m.target(obj)
	if err != nil {
		return nil, err
	}
	key, err := mp.key.Write(v)
	if err != nil {
		return nil, err
	}
	return m.DeleteByKey(ctx, mp.Meta.Type, key)
}

// DeleteByKey removes the document of type t with key. The returned queue applies the
// relationship cascades when executed.
func (m *Mapper) DeleteByKey(ctx context.Context, t reflect.Type, key interface{}) (q *relationships.ActionQueue, err error) {
	defer func(start time.Time) { m.metrics.Observe("delete", start, err) }(time.Now())

	mp, err := m.Mapping(t)
	if err != nil {
		return nil, err
	}
	k, err := mp.keyValue(key)
	if err != nil {
		return nil, err
	}
	actions, found, err := m.remove(ctx, mp, k)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, mp.Meta.Collection, store.KeyString(k))
	}
	q = m.actions()
	q.Add(actions...)
	return q, nil
}

// remove deletes one document and collects the OnDelete actions of its handlers
func (m *Mapper) remove(ctx context.Context, mp *Mapping, key interface{}) ([]*relationships.Action, bool, error) {
	doc, err := m.store.Get(ctx, mp.Meta.Collection, key)
	if store.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	n, err := m.store.Delete(ctx, mp.Meta.Collection, key)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	var actions []*relationships.Action
	for _, h := range mp.Handlers {
		a, err := h.OnDelete(doc, key)
		if err != nil {
			return nil, true, err
		}
		actions = append(actions, a...)
	}
	m.logger.Debug("deleted document",
		zap.String("collection", mp.Meta.Collection),
		zap.String("key", store.KeyString(key)),
		zap.Int("actions", len(actions)))
	return actions, true, nil
}

// CascadeDelete removes a related document as part of a cascade. A document that is
// already gone is not an error.
func (m *Mapper) CascadeDelete(ctx context.Context, t reflect.Type, key interface{}) ([]*relationships.Action, error) {
	mp, err := m.Mapping(t)
	if err != nil {
		return nil, err
	}
	actions, _, err := m.remove(ctx, mp, key)
	return actions, err
}

// Decode builds an instance of t from doc with its stored relationship keys filled
func (m *Mapper) Decode(t reflect.Type, doc store.Document) (reflect.Value, error) {
	mp, err := m.Mapping(t)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr, convErr := mp.instantiate(doc)
	if !ptr.IsValid() {
		return reflect.Value{}, convErr
	}
	if _, err := mp.relate(doc, ptr); err != nil {
		return reflect.Value{}, err
	}
	return ptr, convErr
}
