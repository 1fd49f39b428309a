// Package storetest holds the contract suite every store backend runs and a recording
// store wrapper for asserting which single-document operations were issued.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Call is one recorded store operation
type Call struct {
	Op         string
	Collection string
	Key        string
	Field      string
}

// String renders the call as op collection/key.field
func (c Call) String() string {
	if c.Field == "" {
		return fmt.Sprintf("%s %s/%s", c.Op, c.Collection, c.Key)
	}
	return fmt.Sprintf("%s %s/%s.%s", c.Op, c.Collection, c.Key, c.Field)
}

// Recorder wraps a store and records every call
type Recorder struct {
	store.Store

	mu    sync.Mutex
	calls []Call
}

// NewRecorder wraps s
func NewRecorder(s store.Store) *Recorder {
	return &Recorder{Store: s}
}

func (r *Recorder) record(op, collection string, key interface{}, field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, Collection: collection, Key: store.KeyString(key), Field: field})
}

// Calls returns the recorded calls in order
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many calls of op were recorded
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets the recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Insert records and forwards
func (r *Recorder) Insert(ctx context.Context, collection string, doc store.Document) error {
	r.record("insert", collection, store.KeyOf(doc), "")
	return r.Store.Insert(ctx, collection, doc)
}

// Get records and forwards
func (r *Recorder) Get(ctx context.Context, collection string, key interface{}) (store.Document, error) {
	r.record("get", collection, key, "")
	return r.Store.Get(ctx, collection, key)
}

// GetMany records and forwards
func (r *Recorder) GetMany(ctx context.Context, collection string, keys []interface{}) ([]store.Document, error) {
	r.record("get_many", collection, nil, "")
	return r.Store.GetMany(ctx, collection, keys)
}

// Find records and forwards
func (r *Recorder) Find(ctx context.Context, collection string, cond store.Condition) ([]store.Document, error) {
	r.record("find", collection, nil, cond.Field)
	return r.Store.Find(ctx, collection, cond)
}

// Update records and forwards
func (r *Recorder) Update(ctx context.Context, collection string, key interface{}, delta store.Delta) error {
	r.record("update", collection, key, "")
	return r.Store.Update(ctx, collection, key, delta)
}

// SetAndReturnPrevious records and forwards
func (r *Recorder) SetAndReturnPrevious(ctx context.Context, collection string, key interface{}, field string, value interface{}) (interface{}, error) {
	r.record("set_and_return_previous", collection, key, field)
	return r.Store.SetAndReturnPrevious(ctx, collection, key, field, value)
}

// CompareAndSet records and forwards
func (r *Recorder) CompareAndSet(ctx context.Context, collection string, key interface{}, field string, expected, value interface{}) (bool, error) {
	r.record("compare_and_set", collection, key, field)
	return r.Store.CompareAndSet(ctx, collection, key, field, expected, value)
}

// AddToSet records and forwards
func (r *Recorder) AddToSet(ctx context.Context, collection string, key interface{}, field string, value interface{}) error {
	r.record("add_to_set", collection, key, field)
	return r.Store.AddToSet(ctx, collection, key, field, value)
}

// Pull records and forwards
func (r *Recorder) Pull(ctx context.Context, collection string, key interface{}, field string, value interface{}) error {
	r.record("pull", collection, key, field)
	return r.Store.Pull(ctx, collection, key, field, value)
}

// Delete records and forwards
func (r *Recorder) Delete(ctx context.Context, collection string, key interface{}) (int64, error) {
	r.record("delete", collection, key, "")
	return r.Store.Delete(ctx, collection, key)
}

var _ store.Store = (*Recorder)(nil)
