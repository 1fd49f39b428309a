package codec

import (
	"errors"
	"reflect"

	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// FieldCodec converts one property between an object and its document field
type FieldCodec struct {
	Property *meta.PropertyDescriptor
	Name     string
	Nullable bool
	Writer   Writer
	Reader   Reader
	// Nested is the codec of a nested-object property, nil for every other shape
	Nested *StructCodec
}

// Write returns the document value of the property of obj
func (f *FieldCodec) Write(obj reflect.Value) (interface{}, error) {
	v := f.Property.Get(meta.Indirect(obj))
	if f.Property.OmitEmpty && v.IsZero() {
		return nil, nil
	}
	out, err := f.Writer(v)
	if err != nil {
		return nil, atField(f.Name, err)
	}
	return out, nil
}

// WriteDoc stores the property of obj into doc, omitting nil values
func (f *FieldCodec) WriteDoc(obj reflect.Value, doc store.Document) error {
	v, err := f.Write(obj)
	if err != nil {
		return err
	}
	if v != nil {
		doc[f.Name] = v
	}
	return nil
}

// ReadDoc decodes the field from doc. The bool result reports whether the field was
// present with a non-nil value.
func (f *FieldCodec) ReadDoc(doc store.Document) (reflect.Value, bool, error) {
	raw, ok := doc[f.Name]
	if !ok || raw == nil {
		return reflect.Value{}, false, nil
	}
	v, err := f.Reader(raw)
	if err != nil {
		return reflect.Value{}, true, atField(f.Name, err)
	}
	return v, true, nil
}

// StructCodec encodes and decodes the non-relationship properties of one struct type
type StructCodec struct {
	Meta   *meta.ClassMetadata
	Fields []*FieldCodec
}

// Encode writes the properties of obj (a struct or pointer to one) into a new document
func (s *StructCodec) Encode(obj reflect.Value) (store.Document, error) {
	v := meta.Indirect(obj)
	if !v.IsValid() {
		return nil, nil
	}
	if !v.CanAddr() {
		// accessor methods need a pointer receiver
		cp := reflect.New(v.Type())
		cp.Elem().Set(v)
		v = cp.Elem()
	}

	doc := make(store.Document, len(s.Fields))
	for _, f := range s.Fields {
		if err := f.WriteDoc(v, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// NestedPaths lists the dot paths of every nested-object field, depth first. Fields of
// any other shape, maps included, hold opaque values.
func (s *StructCodec) NestedPaths() []string {
	var paths []string
	var walk func(prefix string, sc *StructCodec)
	walk = func(prefix string, sc *StructCodec) {
		for _, f := range sc.Fields {
			if f.Nested == nil {
				continue
			}
			path := prefix + f.Name
			paths = append(paths, path)
			walk(path+".", f.Nested)
		}
	}
	walk("", s)
	return paths
}

// Values decodes every present field of doc keyed by Go property name. Conversion
// failures are collected; the fields that did decode are still returned.
func (s *StructCodec) Values(doc store.Document) (map[string]reflect.Value, error) {
	values := make(map[string]reflect.Value, len(s.Fields))
	var errs []error
	for _, f := range s.Fields {
		v, ok, err := f.ReadDoc(doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			values[f.Property.Name] = v
		}
	}
	return values, errors.Join(errs...)
}

// Decode builds a new instance from doc and returns a pointer to it
func (s *StructCodec) Decode(doc store.Document) (reflect.Value, error) {
	values, convErr := s.Values(doc)
	ptr, err := s.Meta.Instantiate(values)
	if err != nil {
		return reflect.Value{}, err
	}
	return ptr, convErr
}
