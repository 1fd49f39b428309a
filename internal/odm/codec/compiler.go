// Package codec compiles per-property conversion closures between Go values and their
// document representation. Compilation inspects type information once; the resulting
// codecs only look at runtime values.
package codec

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/shape"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Writer converts a Go value to its document value
type Writer func(v reflect.Value) (interface{}, error)

// Reader converts a document value back to a Go value of the declared type
type Reader func(raw interface{}) (reflect.Value, error)

// ValueCodec is a compiled writer/reader pair for one TypeShape
type ValueCodec struct {
	Write Writer
	Read  Reader
}

// Compiler builds and memoizes codecs
type Compiler struct {
	cache *meta.Cache

	mu       sync.Mutex
	structs  map[reflect.Type]*StructCodec
	building map[reflect.Type]bool
}

// NewCompiler creates a compiler that reads metadata from cache
func NewCompiler(cache *meta.Cache) *Compiler {
	return &Compiler{
		cache:    cache,
		structs:  make(map[reflect.Type]*StructCodec),
		building: make(map[reflect.Type]bool),
	}
}

// Compile builds the field codec of a property
func (c *Compiler) Compile(p *meta.PropertyDescriptor) (*FieldCodec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compileField(p)
}

// Value builds the codec of a bare shape
func (c *Compiler) Value(s *shape.TypeShape) (*ValueCodec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value(s)
}

// Struct returns the codec of a struct type, compiling it on first use
func (c *Compiler) Struct(t reflect.Type) (*StructCodec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.structCodec(t)
}

func (c *Compiler) compileField(p *meta.PropertyDescriptor) (*FieldCodec, error) {
	vc, err := c.value(p.Shape)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", p.Name, err)
	}
	fc := &FieldCodec{
		Property: p,
		Name:     p.Field,
		Nullable: p.Shape.Nullable() || p.OmitEmpty,
		Writer:   vc.Write,
		Reader:   vc.Read,
	}
	if t, ok := nestedType(p.Shape); ok {
		if fc.Nested, err = c.structCodec(t); err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
	}
	return fc, nil
}

// nestedType reports the struct type of a nested-object shape, looking through optionals
func nestedType(s *shape.TypeShape) (reflect.Type, bool) {
	for s.Category == shape.CategoryOptional && !s.Boxed {
		s = s.Elem
	}
	if s.Category != shape.CategoryNested || s.Boxed {
		return nil, false
	}
	return s.Type, true
}

// value dispatches on the shape category; callers hold c.mu
func (c *Compiler) value(s *shape.TypeShape) (*ValueCodec, error) {
	vc, err := c.base(s)
	if err != nil {
		return nil, err
	}
	if s.Boxed {
		return boxed(s.Type, vc), nil
	}
	return vc, nil
}

func (c *Compiler) base(s *shape.TypeShape) (*ValueCodec, error) {
	switch s.Category {
	case shape.CategoryScalar:
		return scalarCodec(s.Type)
	case shape.CategoryBinary:
		return binaryCodec(s.Type), nil
	case shape.CategoryTemporal:
		return temporalCodec(s)
	case shape.CategoryEnum:
		table, ok := c.cache.Resolver().Enum(s.Type)
		if !ok {
			return nil, fmt.Errorf("enum %s is not registered", s.Type)
		}
		return enumCodec(table), nil
	case shape.CategoryList:
		return c.listCodec(s)
	case shape.CategoryArray:
		return c.arrayCodec(s)
	case shape.CategorySet:
		return c.setCodec(s)
	case shape.CategoryMap:
		return c.mapCodec(s)
	case shape.CategoryOptional:
		return c.optionalCodec(s)
	case shape.CategoryNested:
		return c.nestedCodec(s.Type)
	}
	return nil, fmt.Errorf("no codec for shape %s", s)
}

// boxed adapts a codec to an interface{} slot holding values of type t
func boxed(t reflect.Type, vc *ValueCodec) *ValueCodec {
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			if v.Kind() == reflect.Interface {
				if v.IsNil() {
					return nil, nil
				}
				v = v.Elem()
			}
			if v.Type() != t {
				return nil, convErr(v.Interface(), t, "unexpected element type "+v.Type().String())
			}
			return vc.Write(v)
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			if raw == nil {
				return reflect.Zero(t), nil
			}
			return vc.Read(raw)
		},
	}
}

// sequence returns the elements of a stored array value
func sequence(raw interface{}, t reflect.Type) ([]interface{}, error) {
	if arr, ok := raw.([]interface{}); ok {
		return arr, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, convErr(raw, t, "expected array")
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func (c *Compiler) listCodec(s *shape.TypeShape) (*ValueCodec, error) {
	elem, err := c.value(s.Elem)
	if err != nil {
		return nil, err
	}
	t := s.Type
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			if v.IsNil() {
				return nil, nil
			}
			out := make([]interface{}, v.Len())
			for i := range out {
				w, err := elem.Write(v.Index(i))
				if err != nil {
					return nil, atField(fmt.Sprint(i), err)
				}
				out[i] = w
			}
			return out, nil
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			if raw == nil {
				return reflect.Zero(t), nil
			}
			items, err := sequence(raw, t)
			if err != nil {
				return reflect.Value{}, err
			}
			out := reflect.MakeSlice(t, len(items), len(items))
			for i, item := range items {
				ev, err := elem.Read(item)
				if err != nil {
					return reflect.Value{}, atField(fmt.Sprint(i), err)
				}
				out.Index(i).Set(ev)
			}
			return out, nil
		},
	}, nil
}

func (c *Compiler) arrayCodec(s *shape.TypeShape) (*ValueCodec, error) {
	elem, err := c.value(s.Elem)
	if err != nil {
		return nil, err
	}
	t := s.Type
	n := t.Len()
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			out := make([]interface{}, n)
			for i := range out {
				w, err := elem.Write(v.Index(i))
				if err != nil {
					return nil, atField(fmt.Sprint(i), err)
				}
				out[i] = w
			}
			return out, nil
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			out := reflect.New(t).Elem()
			if raw == nil {
				return out, nil
			}
			items, err := sequence(raw, t)
			if err != nil {
				return reflect.Value{}, err
			}
			if len(items) != n {
				return reflect.Value{}, convErr(raw, t, fmt.Sprintf("expected %d elements, got %d", n, len(items)))
			}
			for i, item := range items {
				ev, err := elem.Read(item)
				if err != nil {
					return reflect.Value{}, atField(fmt.Sprint(i), err)
				}
				out.Index(i).Set(ev)
			}
			return out, nil
		},
	}, nil
}

func (c *Compiler) setCodec(s *shape.TypeShape) (*ValueCodec, error) {
	elem, err := c.value(s.Elem)
	if err != nil {
		return nil, err
	}
	t := s.Type
	boolSet := t.Elem().Kind() == reflect.Bool
	present := reflect.New(t.Elem()).Elem()
	if boolSet {
		present.SetBool(true)
	}
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			if v.IsNil() {
				return nil, nil
			}
			out := make([]interface{}, 0, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				if boolSet && !iter.Value().Bool() {
					continue
				}
				w, err := elem.Write(iter.Key())
				if err != nil {
					return nil, err
				}
				out = append(out, w)
			}
			// map iteration order is random; documents should be stable
			sort.Slice(out, func(i, j int) bool {
				return fmt.Sprint(store.Canonical(out[i])) < fmt.Sprint(store.Canonical(out[j]))
			})
			return out, nil
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			if raw == nil {
				return reflect.Zero(t), nil
			}
			items, err := sequence(raw, t)
			if err != nil {
				return reflect.Value{}, err
			}
			out := reflect.MakeMapWithSize(t, len(items))
			for i, item := range items {
				ev, err := elem.Read(item)
				if err != nil {
					return reflect.Value{}, atField(fmt.Sprint(i), err)
				}
				out.SetMapIndex(ev, present)
			}
			return out, nil
		},
	}, nil
}

func (c *Compiler) mapCodec(s *shape.TypeShape) (*ValueCodec, error) {
	keys, err := keyConverter(s.Key, c.cache.Resolver())
	if err != nil {
		return nil, err
	}
	val, err := c.value(s.Value)
	if err != nil {
		return nil, err
	}
	t := s.Type
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			if v.IsNil() {
				return nil, nil
			}
			out := make(store.Document, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				k, err := keys.Format(iter.Key())
				if err != nil {
					return nil, err
				}
				w, err := val.Write(iter.Value())
				if err != nil {
					return nil, atField(k, err)
				}
				out[k] = w
			}
			return out, nil
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			if raw == nil {
				return reflect.Zero(t), nil
			}
			doc, ok := store.AsDocument(raw)
			if !ok {
				return reflect.Value{}, convErr(raw, t, "expected document")
			}
			out := reflect.MakeMapWithSize(t, len(doc))
			for k, item := range doc {
				kv, err := keys.Parse(k)
				if err != nil {
					return reflect.Value{}, err
				}
				ev, err := val.Read(item)
				if err != nil {
					return reflect.Value{}, atField(k, err)
				}
				out.SetMapIndex(kv, ev)
			}
			return out, nil
		},
	}, nil
}

func (c *Compiler) optionalCodec(s *shape.TypeShape) (*ValueCodec, error) {
	elem, err := c.value(s.Elem)
	if err != nil {
		return nil, err
	}
	t := s.Type
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			if v.IsNil() {
				return nil, nil
			}
			return elem.Write(v.Elem())
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			if raw == nil {
				return reflect.Zero(t), nil
			}
			ev, err := elem.Read(raw)
			if err != nil {
				return reflect.Value{}, err
			}
			ptr := reflect.New(t.Elem())
			ptr.Elem().Set(ev)
			return ptr, nil
		},
	}, nil
}

func (c *Compiler) nestedCodec(t reflect.Type) (*ValueCodec, error) {
	sc, err := c.structCodec(t)
	if err != nil {
		return nil, err
	}
	return &ValueCodec{
		Write: func(v reflect.Value) (interface{}, error) {
			return sc.Encode(v)
		},
		Read: func(raw interface{}) (reflect.Value, error) {
			if raw == nil {
				return reflect.Zero(t), nil
			}
			doc, ok := store.AsDocument(raw)
			if !ok {
				return reflect.Value{}, convErr(raw, t, "expected sub-document")
			}
			ptr, err := sc.Decode(doc)
			if err != nil {
				return reflect.Value{}, err
			}
			return ptr.Elem(), nil
		},
	}, nil
}

// structCodec compiles the non-relationship properties of t; callers hold c.mu
func (c *Compiler) structCodec(t reflect.Type) (*StructCodec, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if sc, ok := c.structs[t]; ok {
		return sc, nil
	}
	if c.building[t] {
		return nil, &meta.ConfigurationError{Type: t, Reason: "nested object cycle; documents are trees"}
	}
	c.building[t] = true
	defer delete(c.building, t)

	md, err := c.cache.Of(t)
	if err != nil {
		return nil, err
	}
	sc := &StructCodec{Meta: md}
	for _, p := range md.Properties {
		if p.IsRelationship() {
			continue
		}
		fc, err := c.compileField(p)
		if err != nil {
			return nil, err
		}
		sc.Fields = append(sc.Fields, fc)
	}
	c.structs[t] = sc
	return sc, nil
}
