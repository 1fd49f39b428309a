// Package relationships keeps both sides of bidirectional references consistent across
// independently stored documents. Each relationship field is bound to one of three
// handlers (to-one, to-many, many-to-many) that turn writes into queued single-document
// reconciliation actions and reads into lazy resolutions.
package relationships

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/internal/odm/codec"
	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/metrics"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Mapper is the part of the object mapper handlers call back into
type Mapper interface {
	// Decode builds an instance of t from a stored document and returns a pointer to it
	Decode(t reflect.Type, doc store.Document) (reflect.Value, error)
	// CascadeDelete removes the document of t with key and returns its own reconciliation
	// actions
	CascadeDelete(ctx context.Context, t reflect.Type, key interface{}) ([]*Action, error)
}

// Env carries the collaborators handlers need
type Env struct {
	Store   store.Store
	Cache   *meta.Cache
	Codecs  *codec.Compiler
	Mapper  Mapper
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Handler maintains one relationship field. Handlers are bound once per field and are
// safe for concurrent use.
type Handler interface {
	// Property returns the relationship property
	Property() *meta.PropertyDescriptor
	// Stored reports whether the field is persisted in the owner document
	Stored() bool
	// Loaded reports whether the field of obj holds its links. A field whose lookup has
	// not run yet is not loaded.
	Loaded(obj reflect.Value) bool
	// WriteLocal stores the field of obj into doc when the variant is stored
	WriteLocal(obj reflect.Value, doc store.Document) error
	// ReadLocal fills stored key fields of obj and returns lookups for the rest
	ReadLocal(doc store.Document, key interface{}, obj reflect.Value) ([]*LazyResolution, error)
	// Linked returns the keys linked before a change
	Linked(ctx context.Context, doc store.Document, key interface{}) ([]interface{}, error)
	// OnInsert returns the actions that link a newly inserted owner
	OnInsert(key interface{}, obj reflect.Value) ([]*Action, error)
	// OnUpdate returns the actions that reconcile the change from previous to obj
	OnUpdate(previous []interface{}, key interface{}, obj reflect.Value) ([]*Action, error)
	// OnDelete returns the actions that reconcile the deletion of the owner document
	OnDelete(doc store.Document, key interface{}) ([]*Action, error)
}

// Bind selects and validates the handler of relationship property p of owner. An
// invalid declaration fails here, before any data operation.
func Bind(owner *meta.ClassMetadata, p *meta.PropertyDescriptor, env Env) (Handler, error) {
	if p.Relationship == nil {
		return nil, &meta.ConfigurationError{Type: owner.Type, Property: p.Name, Reason: "not a relationship"}
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}

	l, err := newLink(owner, p, env)
	if err != nil {
		return nil, err
	}

	card := p.Relationship.Cardinality
	if card == meta.CardinalityAuto {
		card = meta.CardinalityToOne
		if l.many {
			card = meta.CardinalityToMany
		}
	}

	var h Handler
	switch card {
	case meta.CardinalityToOne:
		h, err = newToOne(l)
	case meta.CardinalityToMany:
		h, err = newToMany(l)
	case meta.CardinalityManyToMany:
		h, err = newManyToMany(l)
	default:
		err = l.configErr(fmt.Sprintf("unknown cardinality %s", card))
	}
	if err != nil {
		return nil, err
	}
	env.Logger.Debug("bound relationship handler",
		zap.String("owner", owner.Type.String()),
		zap.String("property", p.Name),
		zap.String("cardinality", card.String()),
		zap.String("target", l.target.Type.String()),
		zap.Bool("stored", h.Stored()))
	return h, nil
}

// form is how a relationship field holds its targets
type form int

const (
	formKey form = iota
	formValue
	formPointer
)

// reverse describes the target property that points back at the owner
type reverse struct {
	prop       *meta.PropertyDescriptor
	field      string
	collection bool
	stored     bool
}

// link is the resolved declaration shared by every handler variant
type link struct {
	env    Env
	owner  *meta.ClassMetadata
	prop   *meta.PropertyDescriptor
	desc   *meta.RelationshipDescriptor
	target *meta.ClassMetadata

	many bool // the field is a slice of targets
	form form

	ownerKey  *codec.FieldCodec
	targetKey *codec.FieldCodec
	reverse   *reverse
}

func newLink(owner *meta.ClassMetadata, p *meta.PropertyDescriptor, env Env) (*link, error) {
	l := &link{env: env, owner: owner, prop: p, desc: p.Relationship}

	target, err := env.Cache.Of(p.Relationship.Target)
	if err != nil {
		return nil, err
	}
	l.target = target
	if owner.Key() == nil {
		return nil, l.configErr("owner type has no key property")
	}
	if target.Key() == nil {
		return nil, l.configErr("target type " + target.Type.String() + " has no key property")
	}

	elem := p.Type
	if elem.Kind() == reflect.Slice {
		l.many = true
		elem = elem.Elem()
	}
	switch elem {
	case target.Key().Type:
		l.form = formKey
	case target.Type:
		l.form = formValue
	case reflect.PointerTo(target.Type):
		l.form = formPointer
	default:
		return nil, l.configErr(fmt.Sprintf("field type %s does not hold %s or its key", p.Type, target.Type))
	}

	if l.ownerKey, err = env.Codecs.Compile(owner.Key()); err != nil {
		return nil, err
	}
	if l.targetKey, err = env.Codecs.Compile(target.Key()); err != nil {
		return nil, err
	}

	if p.Relationship.Reverse != "" {
		if l.reverse, err = l.resolveReverse(p.Relationship.Reverse); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// resolveReverse checks that the reverse property exists on the target and points back
// at the owner, either by key or as an entity
func (l *link) resolveReverse(name string) (*reverse, error) {
	rp, ok := l.target.Property(name)
	if !ok {
		return nil, l.configErr(fmt.Sprintf("reverse field %q does not exist on %s", name, l.target.Type))
	}
	r := &reverse{prop: rp, field: rp.Field}

	elem := rp.Type
	if elem.Kind() == reflect.Slice && elem.Elem().Kind() != reflect.Uint8 {
		r.collection = true
		elem = elem.Elem()
	}

	switch elem {
	case l.owner.Key().Type:
		r.stored = true
	case l.owner.Type, reflect.PointerTo(l.owner.Type):
		if rp.Relationship == nil {
			return nil, l.configErr(fmt.Sprintf("reverse field %q embeds %s without a relationship", name, l.owner.Type))
		}
		// only a to-one reverse keeps the owner key in the target document
		card := rp.Relationship.Cardinality
		r.stored = !r.collection && (card == meta.CardinalityToOne || card == meta.CardinalityAuto)
	default:
		return nil, l.configErr(fmt.Sprintf("reverse field %q has type %s, which does not refer to %s", name, rp.Type, l.owner.Type))
	}
	return r, nil
}

func (l *link) configErr(reason string) error {
	return &meta.ConfigurationError{Type: l.owner.Type, Property: l.prop.Name, Reason: reason}
}

// keyOf returns the document form of the target key held by one field element. A nil
// result means the element links nothing.
func (l *link) keyOf(v reflect.Value) (interface{}, error) {
	switch l.form {
	case formKey:
		if v.IsZero() {
			return nil, nil
		}
		return l.targetKey.Writer(v)
	case formPointer:
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if v.IsZero() {
		return nil, nil
	}
	kv, err := l.target.KeyOf(v)
	if err != nil {
		return nil, err
	}
	if kv.IsZero() {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnkeyedEntity, l.owner.Type, l.prop.Name)
	}
	return l.targetKey.Writer(kv)
}

// currentKeys returns the target keys held by obj. loaded is false for a nil slice,
// which for unstored fields means the field was never populated.
func (l *link) currentKeys(obj reflect.Value) (keys []interface{}, loaded bool, err error) {
	v := l.prop.Get(meta.Indirect(obj))
	if !l.many {
		k, err := l.keyOf(v)
		if err != nil || k == nil {
			return nil, true, err
		}
		return []interface{}{k}, true, nil
	}
	if v.IsNil() {
		return nil, false, nil
	}
	keys = make([]interface{}, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		k, err := l.keyOf(v.Index(i))
		if err != nil {
			return nil, true, err
		}
		if k != nil {
			keys = append(keys, k)
		}
	}
	return dedupe(keys), true, nil
}

// readKeys decodes a stored key or key array
func (l *link) readKeys(raw interface{}) []interface{} {
	switch r := raw.(type) {
	case nil:
		return nil
	case []interface{}:
		return dedupe(r)
	default:
		return []interface{}{r}
	}
}

// targetValue turns a decoded target pointer into the element type of the field
func (l *link) targetValue(ptr reflect.Value) reflect.Value {
	if l.form == formPointer {
		return ptr
	}
	return ptr.Elem()
}

func (l *link) elemType() reflect.Type {
	if l.many {
		return l.prop.Type.Elem()
	}
	return l.prop.Type
}

// lookup builds a lazy resolution of targets matching cond. Each found document is
// turned into a field element by elem; set receives the elements.
func (l *link) lookup(obj reflect.Value, cond store.Condition, set func(obj reflect.Value, elems []reflect.Value) error) *LazyResolution {
	s := l.env.Store
	collection := l.target.Collection
	return &LazyResolution{
		Target:     l.target.Type,
		Collection: collection,
		Condition:  cond,
		Property:   l.owner.Type.Name() + "." + l.prop.Name,
		fetch: func(ctx context.Context) ([]store.Document, error) {
			if cond.Field == store.KeyField {
				if cond.Op == store.OpEq {
					doc, err := s.Get(ctx, collection, cond.Values[0])
					if store.IsNotFound(err) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return []store.Document{doc}, nil
				}
				if cond.Op == store.OpIn {
					return s.GetMany(ctx, collection, cond.Values)
				}
			}
			return s.Find(ctx, collection, cond)
		},
		apply: func(docs []store.Document) error {
			elems := make([]reflect.Value, 0, len(docs))
			for _, doc := range docs {
				ev, err := l.elemFromDoc(doc)
				if err != nil {
					return err
				}
				elems = append(elems, ev)
			}
			return set(obj, elems)
		},
	}
}

// elemFromDoc converts a target document into one field element
func (l *link) elemFromDoc(doc store.Document) (reflect.Value, error) {
	if l.form == formKey {
		return l.targetKey.Reader(store.KeyOf(doc))
	}
	ptr, err := l.env.Mapper.Decode(l.target.Type, doc)
	if err != nil {
		return reflect.Value{}, err
	}
	return l.targetValue(ptr), nil
}

// setOne assigns the first element to a single-valued field
func (l *link) setOne(obj reflect.Value, elems []reflect.Value) error {
	if len(elems) == 0 {
		return nil
	}
	return l.prop.Set(meta.Indirect(obj), elems[0])
}

// setMany assigns the elements to a slice field, ordered as given
func (l *link) setMany(obj reflect.Value, elems []reflect.Value) error {
	if len(elems) == 0 {
		return nil
	}
	out := reflect.MakeSlice(l.prop.Type, len(elems), len(elems))
	for i, e := range elems {
		out.Index(i).Set(e)
	}
	return l.prop.Set(meta.Indirect(obj), out)
}

// ordered re-sorts target elements to the order of keys, which is the stored order
func (l *link) ordered(keys []interface{}) func(obj reflect.Value, elems []reflect.Value) error {
	return func(obj reflect.Value, elems []reflect.Value) error {
		byKey := make(map[string]reflect.Value, len(elems))
		for _, e := range elems {
			k, err := l.keyOf(e)
			if err != nil {
				return err
			}
			byKey[store.KeyString(k)] = e
		}
		sorted := make([]reflect.Value, 0, len(elems))
		for _, k := range keys {
			if e, ok := byKey[store.KeyString(k)]; ok {
				sorted = append(sorted, e)
			}
		}
		return l.setMany(obj, sorted)
	}
}

// cascade returns the action applying the cascade mode to a target whose link to the
// owner with key ownerKey was removed
func (l *link) cascade(targetKey, ownerKey interface{}) *Action {
	switch l.desc.Cascade {
	case meta.CascadeSetNull:
		return l.unlink(targetKey, ownerKey)
	case meta.CascadeDelete:
		return l.cascadeDelete(targetKey)
	}
	return nil
}

// unlink removes ownerKey from the reverse field of the target
func (l *link) unlink(targetKey, ownerKey interface{}) *Action {
	r := l.reverse
	if r == nil || !r.stored {
		return nil
	}
	if r.collection {
		return pull(l.env.Store, l.target.Collection, targetKey, r.field, ownerKey)
	}
	return compareAndUnset(l.env.Store, l.target.Collection, targetKey, r.field, ownerKey)
}

func (l *link) cascadeDelete(targetKey interface{}) *Action {
	m := l.env.Mapper
	t := l.target.Type
	return &Action{
		Op: OpCascadeDelete, Collection: l.target.Collection, Key: targetKey,
		run: func(ctx context.Context) ([]*Action, error) {
			return m.CascadeDelete(ctx, t, targetKey)
		},
	}
}

// findLinked returns the keys of targets matching cond
func (l *link) findLinked(ctx context.Context, cond store.Condition) ([]interface{}, error) {
	docs, err := l.env.Store.Find(ctx, l.target.Collection, cond)
	if err != nil {
		return nil, err
	}
	keys := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		keys = append(keys, store.KeyOf(doc))
	}
	return keys, nil
}

// diff returns the keys only in next (added) and only in prev (removed)
func diff(prev, next []interface{}) (added, removed []interface{}) {
	in := func(keys []interface{}) map[string]bool {
		m := make(map[string]bool, len(keys))
		for _, k := range keys {
			m[store.KeyString(k)] = true
		}
		return m
	}
	prevSet, nextSet := in(prev), in(next)
	for _, k := range next {
		if !prevSet[store.KeyString(k)] {
			added = append(added, k)
		}
	}
	for _, k := range prev {
		if !nextSet[store.KeyString(k)] {
			removed = append(removed, k)
		}
	}
	return added, removed
}

func dedupe(keys []interface{}) []interface{} {
	seen := make(map[string]bool, len(keys))
	out := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		ks := store.KeyString(k)
		if k == nil || seen[ks] {
			continue
		}
		seen[ks] = true
		out = append(out, k)
	}
	return out
}

func compact(actions ...*Action) []*Action {
	out := actions[:0]
	for _, a := range actions {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}
