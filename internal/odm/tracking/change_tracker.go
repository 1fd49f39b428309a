// Package tracking computes the difference between a stored document and the document
// an object encodes to now. The result is a set/unset delta over dot paths so an update
// only writes the fields that actually changed.
package tracking

import (
	"sort"
	"strings"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// FieldChange represents a change to a single path
type FieldChange struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
}

// ChangeTracker holds the changes between two documents. It is immutable after
// construction.
type ChangeTracker struct {
	original map[string]interface{}
	current  map[string]interface{}
	changes  map[string]*FieldChange
}

// NewChangeTracker diffs original (the stored state) against current (the new state).
// Sub-documents at the nested paths are compared path by path. Every other value,
// including maps whose keys may contain dots, is compared whole.
func NewChangeTracker(original, current store.Document, nested ...string) *ChangeTracker {
	expand := make(map[string]bool, len(nested))
	for _, path := range nested {
		expand[path] = true
	}
	ct := &ChangeTracker{
		original: flatten(original, expand),
		current:  flatten(current, expand),
		changes:  make(map[string]*FieldChange),
	}
	ct.computeChanges()
	return ct
}

// flatten maps every leaf of doc to its dot path. Only sub-documents at expand paths are
// descended into; empty ones are leaves.
func flatten(doc store.Document, expand map[string]bool) map[string]interface{} {
	out := make(map[string]interface{})
	var walk func(prefix string, d store.Document)
	walk = func(prefix string, d store.Document) {
		for k, v := range d {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if expand[path] {
				if sub, ok := store.AsDocument(v); ok && len(sub) > 0 {
					walk(path, sub)
					continue
				}
			}
			out[path] = store.CloneValue(v)
		}
	}
	walk("", doc)
	return out
}

func (ct *ChangeTracker) computeChanges() {
	for field, newValue := range ct.current {
		oldValue, hadOldValue := ct.original[field]
		if !hadOldValue || !store.Equal(oldValue, newValue) {
			ct.changes[field] = &FieldChange{Field: field, OldValue: oldValue, NewValue: newValue}
		}
	}

	for field, oldValue := range ct.original {
		if _, exists := ct.current[field]; !exists {
			ct.changes[field] = &FieldChange{Field: field, OldValue: oldValue, NewValue: nil}
		}
	}
}

// Changed returns true if the specified path has changed
func (ct *ChangeTracker) Changed(field string) bool {
	_, ok := ct.changes[field]
	return ok
}

// ChangedFields returns the changed paths in sorted order
func (ct *ChangeTracker) ChangedFields() []string {
	fields := make([]string, 0, len(ct.changes))
	for field := range ct.changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// PreviousValue returns the stored value of a path
func (ct *ChangeTracker) PreviousValue(field string) interface{} {
	return ct.original[field]
}

// CurrentValue returns the new value of a path
func (ct *ChangeTracker) CurrentValue(field string) interface{} {
	return ct.current[field]
}

// GetChange returns the FieldChange for a path, or nil if unchanged
func (ct *ChangeTracker) GetChange(field string) *FieldChange {
	return ct.changes[field]
}

// HasChanges returns true if any path has changed
func (ct *ChangeTracker) HasChanges() bool {
	return len(ct.changes) > 0
}

// ChangedTo returns true if the path changed to the specified value
func (ct *ChangeTracker) ChangedTo(field string, value interface{}) bool {
	change, ok := ct.changes[field]
	return ok && store.Equal(change.NewValue, value)
}

// ChangedFrom returns true if the path changed from the specified value
func (ct *ChangeTracker) ChangedFrom(field string, value interface{}) bool {
	change, ok := ct.changes[field]
	return ok && store.Equal(change.OldValue, value)
}

// Delta returns the update that turns the original document into the current one.
// A removed sub-document is unset at its highest removed path instead of leaf by leaf.
func (ct *ChangeTracker) Delta() store.Delta {
	delta := store.Delta{}
	unset := make(map[string]bool)

	for _, field := range ct.ChangedFields() {
		change := ct.changes[field]
		if _, present := ct.current[field]; present {
			if delta.Set == nil {
				delta.Set = make(map[string]interface{})
			}
			delta.Set[field] = change.NewValue
			continue
		}
		if path, ok := ct.removalRoot(field); ok && !unset[path] {
			unset[path] = true
			delta.Unset = append(delta.Unset, path)
		}
	}
	sort.Strings(delta.Unset)
	return delta
}

// removalRoot finds the shortest prefix of field that has nothing left under it in the
// current document. It fails when the path was replaced by new content.
func (ct *ChangeTracker) removalRoot(field string) (string, bool) {
	parts := strings.Split(field, ".")
	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], ".")
		if !ct.occupied(prefix) {
			return prefix, true
		}
	}
	return "", false
}

func (ct *ChangeTracker) occupied(prefix string) bool {
	if _, ok := ct.current[prefix]; ok {
		return true
	}
	for path := range ct.current {
		if strings.HasPrefix(path, prefix+".") {
			return true
		}
	}
	return false
}
