package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) store.Store

// Run exercises the single-document store contract against the stores newStore creates
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	seed := func(t *testing.T, s store.Store, docs ...store.Document) {
		t.Helper()
		for _, d := range docs {
			require.NoError(t, s.Insert(ctx, "things", d))
		}
	}

	t.Run("insert and get", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{
			"_id":   "a",
			"name":  "alpha",
			"count": int64(3),
			"ratio": 0.5,
			"ok":    true,
			"tags":  []interface{}{"x", "y"},
			"inner": store.Document{"city": "Oslo"},
		})

		doc, err := s.Get(ctx, "things", "a")
		require.NoError(t, err)
		assert.Equal(t, "alpha", doc["name"])
		assert.True(t, store.Equal(int64(3), doc["count"]))
		assert.True(t, store.Equal(0.5, doc["ratio"]))
		assert.Equal(t, true, doc["ok"])
		assert.True(t, store.Equal([]interface{}{"x", "y"}, doc["tags"]))
		city, ok := doc.Lookup("inner.city")
		assert.True(t, ok)
		assert.Equal(t, "Oslo", city)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "things", "nope")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("duplicate insert", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "a"})
		err := s.Insert(ctx, "things", store.Document{"_id": "a"})
		assert.True(t, store.IsDuplicateKey(err), "got %v", err)
	})

	t.Run("insert without key", func(t *testing.T) {
		s := newStore(t)
		err := s.Insert(ctx, "things", store.Document{"name": "x"})
		assert.ErrorIs(t, err, store.ErrMissingKey)
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "a", "tags": []interface{}{"x"}})

		doc, err := s.Get(ctx, "things", "a")
		require.NoError(t, err)
		doc["tags"].([]interface{})[0] = "mutated"

		again, err := s.Get(ctx, "things", "a")
		require.NoError(t, err)
		assert.True(t, store.Equal([]interface{}{"x"}, again["tags"]))
	})

	t.Run("get many", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "a"}, store.Document{"_id": "b"}, store.Document{"_id": "c"})

		docs, err := s.GetMany(ctx, "things", []interface{}{"c", "a", "missing"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "c"}, keys(docs))
	})

	t.Run("find", func(t *testing.T) {
		s := newStore(t)
		seed(t, s,
			store.Document{"_id": "a", "owner": "p1", "tags": []interface{}{"red"}},
			store.Document{"_id": "b", "owner": "p2", "tags": []interface{}{"red", "blue"}},
			store.Document{"_id": "c", "owner": "p1"},
		)

		docs, err := s.Find(ctx, "things", store.Eq("owner", "p1"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "c"}, keys(docs))

		docs, err = s.Find(ctx, "things", store.In("_id", "a", "b"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, keys(docs))

		docs, err = s.Find(ctx, "things", store.Contains("tags", "blue"))
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, keys(docs))

		docs, err = s.Find(ctx, "things", store.Eq("owner", "nobody"))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "a", "name": "alpha", "note": "n", "inner": store.Document{"city": "Oslo"}})

		err := s.Update(ctx, "things", "a", store.Delta{
			Set:   map[string]interface{}{"name": "beta", "inner.zip": "0150"},
			Unset: []string{"note"},
		})
		require.NoError(t, err)

		doc, err := s.Get(ctx, "things", "a")
		require.NoError(t, err)
		assert.Equal(t, "beta", doc["name"])
		assert.NotContains(t, doc, "note")
		zip, _ := doc.Lookup("inner.zip")
		city, _ := doc.Lookup("inner.city")
		assert.Equal(t, "0150", zip)
		assert.Equal(t, "Oslo", city)
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(ctx, "things", "nope", store.Delta{Set: map[string]interface{}{"x": "y"}})
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("set and return previous", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "c"})

		prev, err := s.SetAndReturnPrevious(ctx, "things", "c", "parent", "p1")
		require.NoError(t, err)
		assert.Nil(t, prev)

		prev, err = s.SetAndReturnPrevious(ctx, "things", "c", "parent", "p2")
		require.NoError(t, err)
		assert.Equal(t, "p1", prev)

		prev, err = s.SetAndReturnPrevious(ctx, "things", "c", "parent", nil)
		require.NoError(t, err)
		assert.Equal(t, "p2", prev)

		doc, err := s.Get(ctx, "things", "c")
		require.NoError(t, err)
		assert.NotContains(t, doc, "parent")
	})

	t.Run("compare and set", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "c", "parent": "p1"})

		ok, err := s.CompareAndSet(ctx, "things", "c", "parent", "p2", nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CompareAndSet(ctx, "things", "c", "parent", "p1", nil)
		require.NoError(t, err)
		assert.True(t, ok)

		doc, err := s.Get(ctx, "things", "c")
		require.NoError(t, err)
		assert.NotContains(t, doc, "parent")
	})

	t.Run("add to set and pull", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "p"})

		require.NoError(t, s.AddToSet(ctx, "things", "p", "childIds", "c1"))
		require.NoError(t, s.AddToSet(ctx, "things", "p", "childIds", "c2"))
		require.NoError(t, s.AddToSet(ctx, "things", "p", "childIds", "c1"))

		doc, err := s.Get(ctx, "things", "p")
		require.NoError(t, err)
		assert.True(t, store.Equal([]interface{}{"c1", "c2"}, doc["childIds"]), "got %v", doc["childIds"])

		require.NoError(t, s.Pull(ctx, "things", "p", "childIds", "c1"))
		doc, err = s.Get(ctx, "things", "p")
		require.NoError(t, err)
		assert.True(t, store.Equal([]interface{}{"c2"}, doc["childIds"]))

		require.NoError(t, s.Pull(ctx, "things", "p", "childIds", "c2"))
		doc, err = s.Get(ctx, "things", "p")
		require.NoError(t, err)
		assert.NotContains(t, doc, "childIds")
	})

	t.Run("add to set on scalar field", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "p", "childIds": "c1"})
		err := s.AddToSet(ctx, "things", "p", "childIds", "c2")
		assert.ErrorIs(t, err, store.ErrNotArray)
	})

	t.Run("mutations of missing documents are no-ops", func(t *testing.T) {
		s := newStore(t)

		prev, err := s.SetAndReturnPrevious(ctx, "things", "ghost", "f", "v")
		assert.NoError(t, err)
		assert.Nil(t, prev)

		ok, err := s.CompareAndSet(ctx, "things", "ghost", "f", nil, "v")
		assert.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, s.AddToSet(ctx, "things", "ghost", "f", "v"))
		assert.NoError(t, s.Pull(ctx, "things", "ghost", "f", "v"))

		_, err = s.Get(ctx, "things", "ghost")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "a"})

		n, err := s.Delete(ctx, "things", "a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.Delete(ctx, "things", "a")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		_, err = s.Get(ctx, "things", "a")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("collections are separate", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": "a", "kind": "thing"})
		require.NoError(t, s.Insert(ctx, "others", store.Document{"_id": "a", "kind": "other"}))

		doc, err := s.Get(ctx, "others", "a")
		require.NoError(t, err)
		assert.Equal(t, "other", doc["kind"])
	})

	t.Run("integer keys", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, store.Document{"_id": int64(42), "name": "answer"})

		doc, err := s.Get(ctx, "things", int64(42))
		require.NoError(t, err)
		assert.Equal(t, "answer", doc["name"])
		assert.True(t, store.Equal(int64(42), store.KeyOf(doc)))
	})

	t.Run("canceled context", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Get(cctx, "things", "a")
		assert.Error(t, err)
	})
}

func keys(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, store.KeyString(store.KeyOf(d)))
	}
	return out
}
