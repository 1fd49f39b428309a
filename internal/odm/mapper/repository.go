package mapper

import (
	"context"
	"reflect"

	"github.com/conduit-lang/docmap/internal/odm/relationships"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Repository is a typed view of a Mapper for entity type T
type Repository[T any] struct {
	m *Mapper
}

// NewRepository creates a repository for T
func NewRepository[T any](m *Mapper) *Repository[T] {
	return &Repository[T]{m: m}
}

// Type returns the entity type of the repository
func (r *Repository[T]) Type() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Insert stores a new entity
func (r *Repository[T]) Insert(ctx context.Context, obj *T) (*relationships.ActionQueue, error) {
	return r.m.Insert(ctx, obj)
}

// Get loads an entity without resolving relationship lookups
func (r *Repository[T]) Get(ctx context.Context, key interface{}) (*T, *relationships.LazyQueue, error) {
	obj := new(T)
	q, err := r.m.Get(ctx, obj, key)
	if q == nil {
		return nil, nil, err
	}
	return obj, q, err
}

// Load loads an entity and drains its relationship lookups
func (r *Repository[T]) Load(ctx context.Context, key interface{}) (*T, error) {
	obj, q, err := r.Get(ctx, key)
	if err != nil {
		return obj, err
	}
	if err := q.DrainConcurrent(ctx, r.m.lazy); err != nil {
		return obj, err
	}
	return obj, nil
}

// Find loads the entities matching cond
func (r *Repository[T]) Find(ctx context.Context, cond store.Condition) ([]*T, *relationships.LazyQueue, error) {
	var out []*T
	q, err := r.m.Find(ctx, &out, cond)
	return out, q, err
}

// Update writes the changed fields of obj
func (r *Repository[T]) Update(ctx context.Context, obj *T) (*relationships.ActionQueue, error) {
	return r.m.Update(ctx, obj)
}

// Delete removes obj
func (r *Repository[T]) Delete(ctx context.Context, obj *T) (*relationships.ActionQueue, error) {
	return r.m.Delete(ctx, obj)
}

// DeleteByKey removes the entity with key
func (r *Repository[T]) DeleteByKey(ctx context.Context, key interface{}) (*relationships.ActionQueue, error) {
	return r.m.DeleteByKey(ctx, r.Type(), key)
}

// Save inserts obj when it has no stored document yet and updates it otherwise, then
// executes the reconciliation actions
func (r *Repository[T]) Save(ctx context.Context, obj *T) error {
	mp, err := r.m.Mapping(r.Type())
	if err != nil {
		return err
	}

	insert := mp.Meta.Key().Get(reflect.ValueOf(obj).Elem()).IsZero()
	if !insert {
		key, err := mp.key.Write(reflect.ValueOf(obj))
		if err != nil {
			return err
		}
		_, err = r.m.store.Get(ctx, mp.Meta.Collection, key)
		if err != nil && !store.IsNotFound(err) {
			return err
		}
		insert = store.IsNotFound(err)
	}

	var q *relationships.ActionQueue
	if insert {
		q, err = r.m.Insert(ctx, obj)
	} else {
		q, err = r.m.Update(ctx, obj)
	}
	if err != nil {
		return err
	}
	return q.Execute(ctx)
}
