package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

func TestNewChangeTracker(t *testing.T) {
	original := store.Document{"_id": "1", "title": "Original Title", "count": int64(10)}
	current := store.Document{"_id": "1", "title": "Updated Title", "count": int64(10)}

	ct := NewChangeTracker(original, current)

	assert.True(t, ct.Changed("title"))
	assert.False(t, ct.Changed("count"))
	assert.False(t, ct.Changed("_id"))
	assert.Equal(t, []string{"title"}, ct.ChangedFields())
}

func TestChangeTracker_Changed(t *testing.T) {
	tests := []struct {
		name     string
		original store.Document
		current  store.Document
		field    string
		want     bool
	}{
		{
			name:     "unchanged field",
			original: store.Document{"field": "value"},
			current:  store.Document{"field": "value"},
			field:    "field",
			want:     false,
		},
		{
			name:     "changed string field",
			original: store.Document{"field": "old"},
			current:  store.Document{"field": "new"},
			field:    "field",
			want:     true,
		},
		{
			name:     "numeric width differences are not changes",
			original: store.Document{"count": float64(5)},
			current:  store.Document{"count": int64(5)},
			field:    "count",
			want:     false,
		},
		{
			name:     "added field",
			original: store.Document{},
			current:  store.Document{"field": "value"},
			field:    "field",
			want:     true,
		},
		{
			name:     "removed field",
			original: store.Document{"field": "value"},
			current:  store.Document{},
			field:    "field",
			want:     true,
		},
		{
			name:     "array element changed",
			original: store.Document{"tags": []interface{}{"a", "b"}},
			current:  store.Document{"tags": []interface{}{"a", "c"}},
			field:    "tags",
			want:     true,
		},
		{
			name:     "nested leaf changed",
			original: store.Document{"address": store.Document{"city": "Oslo", "zip": "0150"}},
			current:  store.Document{"address": store.Document{"city": "Bergen", "zip": "0150"}},
			field:    "address.city",
			want:     true,
		},
		{
			name:     "nested leaf unchanged",
			original: store.Document{"address": store.Document{"city": "Oslo", "zip": "0150"}},
			current:  store.Document{"address": store.Document{"city": "Bergen", "zip": "0150"}},
			field:    "address.zip",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := NewChangeTracker(tt.original, tt.current)
			assert.Equal(t, tt.want, ct.Changed(tt.field))
		})
	}
}

func TestChangeTracker_ChangedToAndFrom(t *testing.T) {
	ct := NewChangeTracker(
		store.Document{"status": "draft"},
		store.Document{"status": "published"},
	)

	assert.True(t, ct.ChangedTo("status", "published"))
	assert.False(t, ct.ChangedTo("status", "draft"))
	assert.True(t, ct.ChangedFrom("status", "draft"))
	assert.False(t, ct.ChangedFrom("missing", "draft"))
	assert.Equal(t, "draft", ct.PreviousValue("status"))
	assert.Equal(t, "published", ct.CurrentValue("status"))

	change := ct.GetChange("status")
	require.NotNil(t, change)
	assert.Equal(t, "status", change.Field)
	assert.Nil(t, ct.GetChange("other"))
}

func TestChangeTracker_NoChanges(t *testing.T) {
	doc := store.Document{"a": "x", "n": store.Document{"b": true}}
	ct := NewChangeTracker(doc, doc.Clone())

	assert.False(t, ct.HasChanges())
	assert.True(t, ct.Delta().IsEmpty())
}

func TestChangeTracker_Delta(t *testing.T) {
	tests := []struct {
		name      string
		original  store.Document
		current   store.Document
		nested    []string
		wantSet   map[string]interface{}
		wantUnset []string
	}{
		{
			name:     "set changed scalar",
			original: store.Document{"_id": "1", "data": "a"},
			current:  store.Document{"_id": "1", "data": "b"},
			wantSet:  map[string]interface{}{"data": "b"},
		},
		{
			name:      "unset removed field",
			original:  store.Document{"_id": "1", "data": "a", "note": "n"},
			current:   store.Document{"_id": "1", "data": "a"},
			wantUnset: []string{"note"},
		},
		{
			name:     "nested change uses dot path",
			nested:   []string{"address"},
			original: store.Document{"address": store.Document{"city": "Oslo", "zip": "0150"}},
			current:  store.Document{"address": store.Document{"city": "Bergen", "zip": "0150"}},
			wantSet:  map[string]interface{}{"address.city": "Bergen"},
		},
		{
			name:      "removed sub-document unset at its root",
			nested:    []string{"address"},
			original:  store.Document{"address": store.Document{"city": "Oslo", "zip": "0150"}},
			current:   store.Document{},
			wantUnset: []string{"address"},
		},
		{
			name:      "removed nested leaf",
			nested:    []string{"address"},
			original:  store.Document{"address": store.Document{"city": "Oslo", "zip": "0150"}},
			current:   store.Document{"address": store.Document{"city": "Oslo"}},
			wantUnset: []string{"address.zip"},
		},
		{
			name:     "scalar replaced by sub-document",
			nested:   []string{"address"},
			original: store.Document{"address": "unknown"},
			current:  store.Document{"address": store.Document{"city": "Oslo"}},
			wantSet:  map[string]interface{}{"address.city": "Oslo"},
		},
		{
			name:     "map with dotted keys is set whole",
			original: store.Document{"hosts": store.Document{"a": "1"}},
			current:  store.Document{"hosts": store.Document{"a": "1", "example.com": "2"}},
			wantSet:  map[string]interface{}{"hosts": store.Document{"a": "1", "example.com": "2"}},
		},
		{
			name:      "nested paths below the root",
			original:  store.Document{"profile": store.Document{"address": store.Document{"city": "Oslo", "zip": "0150"}}},
			current:   store.Document{"profile": store.Document{"address": store.Document{"city": "Oslo"}}},
			nested:    []string{"profile", "profile.address"},
			wantUnset: []string{"profile.address.zip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := NewChangeTracker(tt.original, tt.current, tt.nested...).Delta()
			assert.Equal(t, tt.wantSet, delta.Set)
			assert.Equal(t, tt.wantUnset, delta.Unset)

			// applying the delta reproduces the current document
			doc := tt.original.Clone()
			delta.Apply(doc)
			assert.True(t, store.Equal(doc, tt.current), "got %v", doc)
		})
	}
}

func TestChangeTracker_DoesNotAliasInputs(t *testing.T) {
	tags := []interface{}{"a"}
	ct := NewChangeTracker(store.Document{}, store.Document{"tags": tags})
	tags[0] = "mutated"

	assert.Equal(t, []interface{}{"a"}, ct.CurrentValue("tags"))
}
