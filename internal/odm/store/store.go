// Package store defines the document model and the single-document store contract the
// mapper runs on. Backends live in sub-packages.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Document is a semi-structured record: string keys mapped to nil, bool, int32, int64,
// float64, string, uuid.UUID, []byte, time.Time, nested Documents or []interface{}.
type Document map[string]interface{}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies documents, arrays and byte slices
func CloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]interface{}:
		return Document(t).Clone()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// Lookup returns the value at a dot-separated path
func (d Document) Lookup(path string) (interface{}, bool) {
	var cur interface{} = d
	for _, part := range strings.Split(path, ".") {
		m, ok := AsDocument(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath assigns v at a dot-separated path, creating intermediate documents
func (d Document) SetPath(path string, v interface{}) {
	parts := strings.Split(path, ".")
	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := AsDocument(cur[part])
		if !ok {
			next = Document{}
		}
		cur[part] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// UnsetPath removes the value at a dot-separated path
func (d Document) UnsetPath(path string) {
	parts := strings.Split(path, ".")
	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := AsDocument(cur[part])
		if !ok {
			return
		}
		cur[part] = next
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

// AsDocument accepts both Document and plain map[string]interface{} values
func AsDocument(v interface{}) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]interface{}:
		return Document(t), true
	}
	return nil, false
}

// Delta is a partial update: fields to set and fields to remove
type Delta struct {
	Set   map[string]interface{}
	Unset []string
}

// IsEmpty returns true if the delta changes nothing
func (d Delta) IsEmpty() bool {
	return len(d.Set) == 0 && len(d.Unset) == 0
}

// Apply applies the delta to doc in place
func (d Delta) Apply(doc Document) {
	for path, v := range d.Set {
		doc.SetPath(path, CloneValue(v))
	}
	for _, path := range d.Unset {
		doc.UnsetPath(path)
	}
}

// Operator is a condition operator
type Operator int

const (
	// OpEq matches documents whose field equals the value
	OpEq Operator = iota
	// OpIn matches documents whose field equals any of the values
	OpIn
	// OpContains matches documents whose array field contains the value
	OpContains
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpIn:
		return "in"
	case OpContains:
		return "contains"
	default:
		return "unknown"
	}
}

// Condition selects documents of one collection
type Condition struct {
	Field  string
	Op     Operator
	Values []interface{}
}

// Eq builds an equality condition
func Eq(field string, v interface{}) Condition {
	return Condition{Field: field, Op: OpEq, Values: []interface{}{v}}
}

// In builds an "is any of" condition
func In(field string, vs ...interface{}) Condition {
	return Condition{Field: field, Op: OpIn, Values: vs}
}

// Contains builds an array membership condition
func Contains(field string, v interface{}) Condition {
	return Condition{Field: field, Op: OpContains, Values: []interface{}{v}}
}

// String returns a readable form of the condition
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Values)
}

// Match reports whether doc satisfies the condition
func (c Condition) Match(doc Document) bool {
	v, ok := doc.Lookup(c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq, OpIn:
		for _, want := range c.Values {
			if Equal(v, want) {
				return true
			}
		}
	case OpContains:
		arr, ok := v.([]interface{})
		if !ok {
			return false
		}
		for _, e := range arr {
			if Equal(e, c.Values[0]) {
				return true
			}
		}
	}
	return false
}

// Store is the single-document store contract. Every mutation touches exactly one
// document. Mutations of a missing document are no-ops, except Update which reports
// ErrNotFound.
type Store interface {
	// Insert stores a new document; doc must carry its key in _id
	Insert(ctx context.Context, collection string, doc Document) error
	// Get returns the document with the given key or ErrNotFound
	Get(ctx context.Context, collection string, key interface{}) (Document, error)
	// GetMany returns the documents that exist among keys
	GetMany(ctx context.Context, collection string, keys []interface{}) ([]Document, error)
	// Find returns the documents matching cond
	Find(ctx context.Context, collection string, cond Condition) ([]Document, error)
	// Update applies a set/unset delta
	Update(ctx context.Context, collection string, key interface{}, delta Delta) error
	// SetAndReturnPrevious atomically assigns field (nil unsets) and returns the prior value
	SetAndReturnPrevious(ctx context.Context, collection string, key interface{}, field string, value interface{}) (interface{}, error)
	// CompareAndSet assigns field (nil unsets) only when its current value equals expected
	CompareAndSet(ctx context.Context, collection string, key interface{}, field string, expected, value interface{}) (bool, error)
	// AddToSet appends value to an array field unless already present
	AddToSet(ctx context.Context, collection string, key interface{}, field string, value interface{}) error
	// Pull removes value from an array field and unsets the field when it becomes empty
	Pull(ctx context.Context, collection string, key interface{}, field string, value interface{}) error
	// Delete removes the document and returns how many were removed
	Delete(ctx context.Context, collection string, key interface{}) (int64, error)
}

// KeyOf returns the _id of a document
func KeyOf(doc Document) interface{} {
	return doc[KeyField]
}

// KeyField is the document field that holds the key
const KeyField = "_id"
