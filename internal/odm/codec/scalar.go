package codec

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/docmap/internal/odm/shape"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// scalarCodec picks the writer/reader pair for a scalar type once
func scalarCodec(t reflect.Type) (*ValueCodec, error) {
	if t == uuidType {
		return &ValueCodec{Write: writeUUID, Read: readUUID(t)}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) { return v.Bool(), nil },
			Read: func(raw interface{}) (reflect.Value, error) {
				b, ok := raw.(bool)
				if !ok {
					return reflect.Value{}, convErr(raw, t, "expected bool")
				}
				out := reflect.New(t).Elem()
				out.SetBool(b)
				return out, nil
			},
		}, nil

	case reflect.Int8, reflect.Int16, reflect.Int32:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) { return int32(v.Int()), nil },
			Read:  readInt(t),
		}, nil

	case reflect.Int, reflect.Int64:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) { return v.Int(), nil },
			Read:  readInt(t),
		}, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) {
				u := v.Uint()
				if u > math.MaxInt64 {
					return nil, convErr(u, t, "exceeds int64 range")
				}
				return int64(u), nil
			},
			Read: readUint(t),
		}, nil

	case reflect.Float32, reflect.Float64:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) { return v.Float(), nil },
			Read: func(raw interface{}) (reflect.Value, error) {
				f, ok := toFloat(raw)
				if !ok {
					return reflect.Value{}, convErr(raw, t, "expected number")
				}
				out := reflect.New(t).Elem()
				if out.OverflowFloat(f) {
					return reflect.Value{}, convErr(raw, t, "overflows")
				}
				out.SetFloat(f)
				return out, nil
			},
		}, nil

	case reflect.String:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) { return v.String(), nil },
			Read: func(raw interface{}) (reflect.Value, error) {
				s, ok := raw.(string)
				if !ok {
					return reflect.Value{}, convErr(raw, t, "expected string")
				}
				out := reflect.New(t).Elem()
				out.SetString(s)
				return out, nil
			},
		}, nil
	}

	return nil, convErr(nil, t, "not a scalar type")
}

// readInt narrows any integral document number back to the declared width
func readInt(t reflect.Type) Reader {
	return func(raw interface{}) (reflect.Value, error) {
		n, ok := toInt64(raw)
		if !ok {
			return reflect.Value{}, convErr(raw, t, "expected integer")
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(n) {
			return reflect.Value{}, convErr(raw, t, "overflows")
		}
		out.SetInt(n)
		return out, nil
	}
}

func readUint(t reflect.Type) Reader {
	return func(raw interface{}) (reflect.Value, error) {
		n, ok := toInt64(raw)
		if !ok {
			if u, isU := raw.(uint64); isU {
				out := reflect.New(t).Elem()
				if out.OverflowUint(u) {
					return reflect.Value{}, convErr(raw, t, "overflows")
				}
				out.SetUint(u)
				return out, nil
			}
			return reflect.Value{}, convErr(raw, t, "expected integer")
		}
		if n < 0 {
			return reflect.Value{}, convErr(raw, t, "negative value for unsigned type")
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(uint64(n)) {
			return reflect.Value{}, convErr(raw, t, "overflows")
		}
		out.SetUint(uint64(n))
		return out, nil
	}
}

func toInt64(raw interface{}) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		f := float64(n)
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(raw); ok {
		return float64(i), true
	}
	return 0, false
}

func writeUUID(v reflect.Value) (interface{}, error) {
	return v.Interface().(uuid.UUID), nil
}

func readUUID(t reflect.Type) Reader {
	return func(raw interface{}) (reflect.Value, error) {
		var id uuid.UUID
		switch r := raw.(type) {
		case uuid.UUID:
			id = r
		case string:
			parsed, err := uuid.Parse(r)
			if err != nil {
				return reflect.Value{}, convErr(raw, t, err.Error())
			}
			id = parsed
		case []byte:
			parsed, err := uuid.FromBytes(r)
			if err != nil {
				return reflect.Value{}, convErr(raw, t, err.Error())
			}
			id = parsed
		default:
			return reflect.Value{}, convErr(raw, t, "expected uuid")
		}
		return reflect.ValueOf(id), nil
	}
}

// binaryCodec handles []byte and named byte slices
func binaryCodec(t reflect.Type) *ValueCodec {
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			if v.IsNil() {
				return nil, nil
			}
			b := make([]byte, v.Len())
			copy(b, v.Bytes())
			return b, nil
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			var b []byte
			switch r := raw.(type) {
			case []byte:
				b = make([]byte, len(r))
				copy(b, r)
			case string:
				decoded, err := base64.StdEncoding.DecodeString(r)
				if err != nil {
					return reflect.Value{}, convErr(raw, t, "invalid base64")
				}
				b = decoded
			default:
				return reflect.Value{}, convErr(raw, t, "expected binary")
			}
			return reflect.ValueOf(b).Convert(t), nil
		},
	}
}

// temporalCodec picks the writer/reader pair for a temporal sub-kind
func temporalCodec(s *shape.TypeShape) (*ValueCodec, error) {
	t := s.Type
	switch s.Temporal {
	case shape.TemporalInstant:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) {
				return v.Interface().(time.Time).Round(0).UTC(), nil
			},
			Read: func(raw interface{}) (reflect.Value, error) {
				tm, err := toTime(raw, t)
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(tm), nil
			},
		}, nil

	case shape.TemporalDate:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) {
				tm := v.Interface().(time.Time)
				y, m, d := tm.Date()
				return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
			},
			Read: func(raw interface{}) (reflect.Value, error) {
				if s, ok := raw.(string); ok && len(s) == len("2006-01-02") {
					tm, err := time.Parse("2006-01-02", s)
					if err != nil {
						return reflect.Value{}, convErr(raw, t, err.Error())
					}
					return reflect.ValueOf(tm), nil
				}
				tm, err := toTime(raw, t)
				if err != nil {
					return reflect.Value{}, err
				}
				y, m, d := tm.UTC().Date()
				return reflect.ValueOf(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)), nil
			},
		}, nil

	case shape.TemporalLocalDate:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) {
				d := v.Interface().(shape.LocalDate)
				if d.IsZero() {
					return nil, nil
				}
				return d.String(), nil
			},
			Read: func(raw interface{}) (reflect.Value, error) {
				switch r := raw.(type) {
				case string:
					d, err := shape.ParseLocalDate(r)
					if err != nil {
						return reflect.Value{}, convErr(raw, t, err.Error())
					}
					return reflect.ValueOf(d), nil
				case time.Time:
					return reflect.ValueOf(shape.LocalDateOf(r)), nil
				}
				return reflect.Value{}, convErr(raw, t, "expected date string")
			},
		}, nil

	case shape.TemporalLocalTime:
		return &ValueCodec{
			Write: func(v reflect.Value) (interface{}, error) {
				return v.Interface().(shape.LocalTime).String(), nil
			},
			Read: func(raw interface{}) (reflect.Value, error) {
				r, ok := raw.(string)
				if !ok {
					return reflect.Value{}, convErr(raw, t, "expected time string")
				}
				lt, err := shape.ParseLocalTime(r)
				if err != nil {
					return reflect.Value{}, convErr(raw, t, err.Error())
				}
				return reflect.ValueOf(lt), nil
			},
		}, nil
	}
	return nil, convErr(nil, t, "unknown temporal kind "+s.Temporal.String())
}

func toTime(raw interface{}, t reflect.Type) (time.Time, error) {
	switch r := raw.(type) {
	case time.Time:
		return r, nil
	case string:
		tm, err := time.Parse(time.RFC3339Nano, r)
		if err != nil {
			return time.Time{}, convErr(raw, t, err.Error())
		}
		return tm, nil
	}
	return time.Time{}, convErr(raw, t, "expected timestamp")
}

// enumCodec writes canonical names and reads them back through the enum table
func enumCodec(table *shape.EnumTable) *ValueCodec {
	t := table.Type
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			name, ok := table.Name(v)
			if !ok {
				return nil, convErr(v.Interface(), t, "unregistered enum value")
			}
			return name, nil
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			name, ok := raw.(string)
			if !ok {
				return reflect.Value{}, convErr(raw, t, "expected enum name")
			}
			v, ok := table.Value(name)
			if !ok {
				return reflect.Value{}, convErr(raw, t, "unknown enum name")
			}
			return v, nil
		},
	}
}
