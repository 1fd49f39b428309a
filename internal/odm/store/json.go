package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeJSON encodes a document for backends that persist JSON text
func EncodeJSON(doc Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b, nil
}

// DecodeJSON decodes JSON text into a document, turning nested objects into
// Documents and numbers into int64 or float64
func DecodeJSON(b []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return normalizeJSON(raw).(Document), nil
}

func normalizeJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		doc := make(Document, len(t))
		for k, e := range t {
			doc[k] = normalizeJSON(e)
		}
		return doc
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeJSON(e)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
