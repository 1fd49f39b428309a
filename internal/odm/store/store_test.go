package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_Paths(t *testing.T) {
	doc := Document{"name": "a", "address": Document{"city": "Oslo"}}

	v, ok := doc.Lookup("address.city")
	assert.True(t, ok)
	assert.Equal(t, "Oslo", v)

	_, ok = doc.Lookup("address.zip")
	assert.False(t, ok)
	_, ok = doc.Lookup("name.first")
	assert.False(t, ok)

	doc.SetPath("address.zip", "0150")
	doc.SetPath("geo.lat", 59.9)
	v, _ = doc.Lookup("address.zip")
	assert.Equal(t, "0150", v)
	v, _ = doc.Lookup("geo.lat")
	assert.Equal(t, 59.9, v)

	doc.UnsetPath("address.city")
	doc.UnsetPath("missing.path")
	_, ok = doc.Lookup("address.city")
	assert.False(t, ok)
}

func TestDocument_Clone(t *testing.T) {
	doc := Document{
		"tags":  []interface{}{"a", Document{"k": "v"}},
		"inner": map[string]interface{}{"x": int64(1)},
		"raw":   []byte{1, 2},
	}
	cp := doc.Clone()

	cp["tags"].([]interface{})[0] = "changed"
	cp["tags"].([]interface{})[1].(Document)["k"] = "changed"
	cp["inner"].(Document)["x"] = int64(2)
	cp["raw"].([]byte)[0] = 9

	assert.Equal(t, "a", doc["tags"].([]interface{})[0])
	assert.Equal(t, "v", doc["tags"].([]interface{})[1].(Document)["k"])
	assert.Equal(t, int64(1), doc["inner"].(map[string]interface{})["x"])
	assert.Equal(t, byte(1), doc["raw"].([]byte)[0])
}

func TestEqual(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"nil", nil, nil, true},
		{"nil and value", nil, "x", false},
		{"int widths", int32(5), int64(5), true},
		{"integral float", float64(5), int64(5), true},
		{"fraction", 5.5, int64(5), false},
		{"json number", json.Number("7"), int64(7), true},
		{"uuid and string", id, id.String(), true},
		{"time and string", now, now.Format(time.RFC3339Nano), true},
		{"time and offset string", now, now.In(time.FixedZone("CEST", 2*60*60)).Format(time.RFC3339Nano), true},
		{"offset strings", "2024-03-01T14:00:00+02:00", "2024-03-01T12:00:00Z", true},
		{"different instants", "2024-03-01T14:00:00+02:00", "2024-03-01T14:00:00Z", false},
		{"date strings", "2024-03-01", "2024-03-01", true},
		{"bytes and base64", []byte("hi"), "aGk=", true},
		{"string and int", "5", int64(5), false},
		{"arrays", []interface{}{int32(1), "a"}, []interface{}{int64(1), "a"}, true},
		{"arrays differ in length", []interface{}{"a"}, []interface{}{"a", "b"}, false},
		{"documents", Document{"a": int32(1)}, map[string]interface{}{"a": float64(1)}, true},
		{"documents differ", Document{"a": 1}, Document{"b": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestKeyString(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "abc", KeyString("abc"))
	assert.Equal(t, "42", KeyString(int32(42)))
	assert.Equal(t, "42", KeyString(float64(42)))
	assert.Equal(t, id.String(), KeyString(id))
	assert.Equal(t, "", KeyString(nil))
	assert.Equal(t, "2024-03-01T14:00:00+02:00", KeyString("2024-03-01T14:00:00+02:00"), "string keys are used as is")
}

func TestCondition_Match(t *testing.T) {
	doc := Document{"_id": "c1", "parent": "p1", "tags": []interface{}{"red", "blue"}, "n": int64(3)}

	assert.True(t, Eq("parent", "p1").Match(doc))
	assert.False(t, Eq("parent", "p2").Match(doc))
	assert.False(t, Eq("missing", nil).Match(doc))
	assert.True(t, In("_id", "c0", "c1").Match(doc))
	assert.False(t, In("_id").Match(doc))
	assert.True(t, Contains("tags", "blue").Match(doc))
	assert.False(t, Contains("parent", "p1").Match(doc))
	assert.True(t, Eq("n", float64(3)).Match(doc))
	assert.Equal(t, "parent eq [p1]", Eq("parent", "p1").String())
}

func TestMutations(t *testing.T) {
	t.Run("set field returns previous", func(t *testing.T) {
		doc := Document{"parent": "p1"}
		changed, prev, err := SetField("parent", "p2")(doc)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "p1", prev)
		assert.Equal(t, "p2", doc["parent"])

		changed, _, err = SetField("parent", "p2")(doc)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("set nil unsets", func(t *testing.T) {
		doc := Document{"parent": "p1"}
		_, prev, err := SetField("parent", nil)(doc)
		require.NoError(t, err)
		assert.Equal(t, "p1", prev)
		assert.NotContains(t, doc, "parent")
	})

	t.Run("compare and set", func(t *testing.T) {
		doc := Document{"parent": "p1"}
		changed, swapped, err := CompareAndSetField("parent", "p9", nil)(doc)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, false, swapped)

		changed, swapped, err = CompareAndSetField("parent", "p1", "p2")(doc)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, true, swapped)
		assert.Equal(t, "p2", doc["parent"])
	})

	t.Run("add to set", func(t *testing.T) {
		doc := Document{}
		changed, _, err := AddToSetField("ids", "a")(doc)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, _, err = AddToSetField("ids", "a")(doc)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, []interface{}{"a"}, doc["ids"])

		_, _, err = AddToSetField("scalar", "a")(Document{"scalar": "x"})
		assert.ErrorIs(t, err, ErrNotArray)
	})

	t.Run("pull unsets empty arrays", func(t *testing.T) {
		doc := Document{"ids": []interface{}{"a", "b"}}
		changed, _, err := PullField("ids", "a")(doc)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []interface{}{"b"}, doc["ids"])

		changed, _, err = PullField("ids", "zzz")(doc)
		require.NoError(t, err)
		assert.False(t, changed)

		_, _, err = PullField("ids", "b")(doc)
		require.NoError(t, err)
		assert.NotContains(t, doc, "ids")
	})

	t.Run("apply delta", func(t *testing.T) {
		doc := Document{"a": "1", "b": "2"}
		changed, _, err := ApplyDelta(Delta{Set: map[string]interface{}{"a": "x"}, Unset: []string{"b"}})(doc)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, Document{"a": "x"}, doc)
	})
}

func TestFilter(t *testing.T) {
	docs := []Document{{"_id": "a", "k": "x"}, {"_id": "b", "k": "y"}}
	out := Filter(docs, Eq("k", "y"))
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0]["_id"])
}

func TestJSONRoundTrip(t *testing.T) {
	id := uuid.New()
	doc := Document{
		"_id":   id,
		"count": int32(3),
		"ratio": 0.25,
		"tags":  []interface{}{"a", int64(2)},
		"inner": Document{"n": int64(9007199254740993)},
	}

	b, err := EncodeJSON(doc)
	require.NoError(t, err)
	out, err := DecodeJSON(b)
	require.NoError(t, err)

	assert.Equal(t, id.String(), out["_id"])
	assert.Equal(t, int64(3), out["count"])
	assert.Equal(t, 0.25, out["ratio"])
	assert.Equal(t, []interface{}{"a", int64(2)}, out["tags"])
	inner, ok := out["inner"].(Document)
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), inner["n"])
	assert.True(t, Equal(doc, out))
}

func TestDecodeJSON_Invalid(t *testing.T) {
	_, err := DecodeJSON([]byte("{not json"))
	assert.Error(t, err)
}
