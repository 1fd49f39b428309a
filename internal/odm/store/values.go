package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Canonical normalizes a scalar so values that went through different backends compare
// equal: numbers become float64 (or int64 when integral and in range), uuids and times
// become strings, byte slices become base64. Timestamp strings are rewritten in UTC.
func Canonical(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return canonicalUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return canonicalUint(t)
	case float32:
		return canonicalFloat(float64(t))
	case float64:
		return canonicalFloat(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return canonicalFloat(f)
		}
		return t.String()
	case uuid.UUID:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return canonicalString(t)
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

// canonicalString normalizes RFC 3339 timestamps, which JSON backends hand back with the
// offset they were written in
func canonicalString(s string) string {
	if len(s) < len("2006-01-02T15:04:05Z") || s[4] != '-' || s[10] != 'T' {
		return s
	}
	tm, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return tm.UTC().Format(time.RFC3339Nano)
}

func canonicalUint(u uint64) interface{} {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return float64(u)
}

func canonicalFloat(f float64) interface{} {
	if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return int64(f)
	}
	return f
}

// Equal compares two document values after canonicalization. Arrays and documents are
// compared element-wise.
func Equal(a, b interface{}) bool {
	if da, ok := AsDocument(a); ok {
		db, ok := AsDocument(b)
		if !ok || len(da) != len(db) {
			return false
		}
		for k, v := range da {
			w, ok := db[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	if aa, ok := a.([]interface{}); ok {
		bb, ok := b.([]interface{})
		if !ok || len(aa) != len(bb) {
			return false
		}
		for i := range aa {
			if !Equal(aa[i], bb[i]) {
				return false
			}
		}
		return true
	}
	ca, cb := Canonical(a), Canonical(b)
	ta, tb := reflect.TypeOf(ca), reflect.TypeOf(cb)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(ca, cb)
	}
	return ca == cb
}

// KeyString renders a key as the string backends use for addressing documents
func KeyString(key interface{}) string {
	if s, ok := key.(string); ok {
		return s
	}
	switch c := Canonical(key).(type) {
	case nil:
		return ""
	case string:
		return c
	case int64:
		return strconv.FormatInt(c, 10)
	default:
		return fmt.Sprint(c)
	}
}
