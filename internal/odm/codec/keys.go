package codec

import (
	"reflect"
	"strconv"

	"github.com/google/uuid"

	"github.com/conduit-lang/docmap/internal/odm/shape"
)

// KeyConverter maps map keys to document field names and back
type KeyConverter struct {
	Format func(reflect.Value) (string, error)
	Parse  func(string) (reflect.Value, error)
}

// keyConverter chooses the converter for a map key shape once
func keyConverter(s *shape.TypeShape, r *shape.Resolver) (*KeyConverter, error) {
	t := s.Type
	if s.Category == shape.CategoryEnum {
		table, _ := r.Enum(t)
		return &KeyConverter{
			Format: func(v reflect.Value) (string, error) {
				name, ok := table.Name(v)
				if !ok {
					return "", convErr(v.Interface(), t, "unregistered enum key")
				}
				return name, nil
			},
			Parse: func(name string) (reflect.Value, error) {
				v, ok := table.Value(name)
				if !ok {
					return reflect.Value{}, convErr(name, t, "unknown enum key")
				}
				return v, nil
			},
		}, nil
	}

	if t == uuidType {
		return &KeyConverter{
			Format: func(v reflect.Value) (string, error) {
				return v.Interface().(uuid.UUID).String(), nil
			},
			Parse: func(s string) (reflect.Value, error) {
				id, err := uuid.Parse(s)
				if err != nil {
					return reflect.Value{}, convErr(s, t, err.Error())
				}
				return reflect.ValueOf(id), nil
			},
		}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return &KeyConverter{
			Format: func(v reflect.Value) (string, error) { return v.String(), nil },
			Parse: func(s string) (reflect.Value, error) {
				out := reflect.New(t).Elem()
				out.SetString(s)
				return out, nil
			},
		}, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits := t.Bits()
		return &KeyConverter{
			Format: func(v reflect.Value) (string, error) { return strconv.FormatInt(v.Int(), 10), nil },
			Parse: func(s string) (reflect.Value, error) {
				n, err := strconv.ParseInt(s, 10, bits)
				if err != nil {
					return reflect.Value{}, convErr(s, t, "invalid integer key")
				}
				out := reflect.New(t).Elem()
				out.SetInt(n)
				return out, nil
			},
		}, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		bits := t.Bits()
		return &KeyConverter{
			Format: func(v reflect.Value) (string, error) { return strconv.FormatUint(v.Uint(), 10), nil },
			Parse: func(s string) (reflect.Value, error) {
				n, err := strconv.ParseUint(s, 10, bits)
				if err != nil {
					return reflect.Value{}, convErr(s, t, "invalid unsigned key")
				}
				out := reflect.New(t).Elem()
				out.SetUint(n)
				return out, nil
			},
		}, nil
	}

	return nil, convErr(nil, t, "unsupported map key type")
}
