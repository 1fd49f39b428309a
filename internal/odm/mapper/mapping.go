package mapper

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/internal/odm/codec"
	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/relationships"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Mapping is the compiled form of one entity type: its field codecs and bound
// relationship handlers. It is immutable and shared by every operation on the type.
type Mapping struct {
	Meta     *meta.ClassMetadata
	Codec    *codec.StructCodec
	Handlers []relationships.Handler

	key    *codec.FieldCodec
	nested []string
}

// Mapping returns the mapping of t, building it on first use. Concurrent first requests
// share one build.
func (m *Mapper) Mapping(t reflect.Type) (*Mapping, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if mp, ok := m.mappings.Load(t); ok {
		return mp.(*Mapping), nil
	}

	v, err, _ := m.group.Do(t.PkgPath()+"."+t.String(), func() (interface{}, error) {
		if mp, ok := m.mappings.Load(t); ok {
			return mp, nil
		}
		mp, err := m.buildMapping(t)
		if err != nil {
			return nil, err
		}
		m.mappings.Store(t, mp)
		m.metrics.MappingBuilt()
		return mp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Mapping), nil
}

func (m *Mapper) buildMapping(t reflect.Type) (*Mapping, error) {
	md, err := m.cache.Of(t)
	if err != nil {
		return nil, err
	}
	if md.Key() == nil {
		return nil, &meta.ConfigurationError{Type: t, Reason: "entity type has no key property"}
	}

	sc, err := m.codecs.Struct(t)
	if err != nil {
		return nil, err
	}
	mp := &Mapping{Meta: md, Codec: sc, nested: sc.NestedPaths()}
	for _, f := range sc.Fields {
		if f.Property.Key {
			mp.key = f
		}
	}

	env := relationships.Env{
		Store:   m.store,
		Cache:   m.cache,
		Codecs:  m.codecs,
		Mapper:  m,
		Logger:  m.logger,
		Metrics: m.metrics,
	}
	for _, p := range md.Relationships() {
		h, err := relationships.Bind(md, p, env)
		if err != nil {
			return nil, err
		}
		mp.Handlers = append(mp.Handlers, h)
	}

	m.logger.Debug("built mapping",
		zap.String("type", t.String()),
		zap.String("collection", md.Collection),
		zap.Int("fields", len(sc.Fields)),
		zap.Int("relationships", len(mp.Handlers)))
	return mp, nil
}

// encode writes obj into a new document including stored relationship fields
func (mp *Mapping) encode(obj reflect.Value) (store.Document, error) {
	doc, err := mp.Codec.Encode(obj)
	if err != nil {
		return nil, err
	}
	for _, h := range mp.Handlers {
		if err := h.WriteLocal(obj, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// instantiate builds a new instance from the plain fields of doc. Conversion errors are
// returned alongside the partially populated instance.
func (mp *Mapping) instantiate(doc store.Document) (reflect.Value, error) {
	values, convErr := mp.Codec.Values(doc)
	ptr, err := mp.Meta.Instantiate(values)
	if err != nil {
		return reflect.Value{}, err
	}
	return ptr, convErr
}

// relate fills stored relationship keys of obj and returns the lookups for the rest
func (mp *Mapping) relate(doc store.Document, obj reflect.Value) ([]*relationships.LazyResolution, error) {
	key := store.KeyOf(doc)
	var lazies []*relationships.LazyResolution
	for _, h := range mp.Handlers {
		l, err := h.ReadLocal(doc, key, obj)
		if err != nil {
			return nil, err
		}
		lazies = append(lazies, l...)
	}
	return lazies, nil
}

// keyValue converts a key given as the key property type into its document form. Other
// values are assumed to be in document form already.
func (mp *Mapping) keyValue(key interface{}) (interface{}, error) {
	if key == nil {
		return nil, store.ErrMissingKey
	}
	rv := reflect.ValueOf(key)
	kt := mp.key.Property.Type
	if rv.Type() != kt {
		if rv.Kind() != kt.Kind() || !rv.Type().ConvertibleTo(kt) {
			return key, nil
		}
		rv = rv.Convert(kt)
	}
	if rv.IsZero() {
		return nil, store.ErrMissingKey
	}
	return mp.key.Writer(rv)
}
