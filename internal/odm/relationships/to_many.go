package relationships

import (
	"context"
	"reflect"

	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// toMany links the owner to children that each have a single owner. A slice of keys, or
// a slice of entities without a reverse field, is stored in the owner document as target
// keys. A slice of entities with a reverse field is not stored and is found through the
// children's reverse field.
type toMany struct {
	*link
	local bool
}

func newToMany(l *link) (*toMany, error) {
	if !l.many {
		return nil, l.configErr("to-many relationship declared on a non-slice field")
	}
	if l.reverse != nil && l.reverse.collection {
		return nil, l.configErr("reverse field of a to-many relationship must hold a single owner; declare many-to-many instead")
	}
	if l.form != formKey && l.reverse != nil && !l.reverse.stored {
		return nil, l.configErr("to-many relationship of entities needs a stored reverse field")
	}
	return &toMany{link: l, local: l.form == formKey || l.reverse == nil}, nil
}

func (h *toMany) Property() *meta.PropertyDescriptor { return h.prop }

func (h *toMany) Stored() bool { return h.local }

// Loaded is false for a nil slice of entities, which only fills in once its lookup runs.
// A nil slice of keys means no children.
func (h *toMany) Loaded(obj reflect.Value) bool {
	return h.form == formKey || !h.prop.Get(meta.Indirect(obj)).IsNil()
}

// linking reports whether inserts claim children. Unstored fields exist only through the
// children's reverse field, so they always do.
func (h *toMany) linking() bool {
	return h.reverse != nil && (h.desc.AddLinkOnCreate || !h.Stored())
}

func (h *toMany) WriteLocal(obj reflect.Value, doc store.Document) error {
	if !h.Stored() {
		return nil
	}
	keys, _, err := h.currentKeys(obj)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		doc[h.prop.Field] = keys
	}
	return nil
}

func (h *toMany) ReadLocal(doc store.Document, key interface{}, obj reflect.Value) ([]*LazyResolution, error) {
	if !h.Stored() {
		return []*LazyResolution{h.lookup(obj, store.Eq(h.reverse.field, key), h.setMany)}, nil
	}
	keys := h.readKeys(doc[h.prop.Field])
	if len(keys) == 0 {
		return nil, nil
	}
	if h.form != formKey {
		return []*LazyResolution{h.lookup(obj, store.In(store.KeyField, keys...), h.ordered(keys))}, nil
	}
	out := reflect.MakeSlice(h.prop.Type, len(keys), len(keys))
	for i, raw := range keys {
		v, err := h.targetKey.Reader(raw)
		if err != nil {
			return nil, err
		}
		out.Index(i).Set(v)
	}
	return nil, h.prop.Set(meta.Indirect(obj), out)
}

func (h *toMany) Linked(ctx context.Context, doc store.Document, key interface{}) ([]interface{}, error) {
	if h.Stored() {
		return h.readKeys(doc[h.prop.Field]), nil
	}
	return h.findLinked(ctx, store.Eq(h.reverse.field, key))
}

func (h *toMany) OnInsert(key interface{}, obj reflect.Value) ([]*Action, error) {
	if !h.linking() {
		return nil, nil
	}
	keys, _, err := h.currentKeys(obj)
	if err != nil {
		return nil, err
	}
	actions := make([]*Action, 0, len(keys))
	for _, c := range keys {
		actions = append(actions, h.claim(c, key))
	}
	return actions, nil
}

// claim makes the owner the child's single owner. When the child belonged to another
// owner that stores its children, the child is pulled from that owner's field.
func (h *toMany) claim(child, key interface{}) *Action {
	s := h.env.Store
	ownerCollection, localField, stored := h.owner.Collection, h.prop.Field, h.Stored()
	return setAndReturnPrevious(s, h.target.Collection, child, h.reverse.field, key, func(prev interface{}) []*Action {
		if prev == nil || store.Equal(prev, key) || !stored {
			return nil
		}
		return []*Action{pull(s, ownerCollection, prev, localField, child)}
	})
}

func (h *toMany) OnUpdate(previous []interface{}, key interface{}, obj reflect.Value) ([]*Action, error) {
	if !h.Loaded(obj) {
		return nil, nil
	}
	next, _, err := h.currentKeys(obj)
	if err != nil {
		return nil, err
	}
	added, removed := diff(previous, next)

	var actions []*Action
	for _, c := range removed {
		actions = append(actions, h.cascade(c, key))
	}
	if h.linking() {
		for _, c := range added {
			actions = append(actions, h.claim(c, key))
		}
	}
	return compact(actions...), nil
}

func (h *toMany) OnDelete(doc store.Document, key interface{}) ([]*Action, error) {
	if h.desc.Cascade == meta.CascadeIgnore {
		return nil, nil
	}
	if h.Stored() {
		var actions []*Action
		for _, c := range h.readKeys(doc[h.prop.Field]) {
			actions = append(actions, h.cascade(c, key))
		}
		return compact(actions...), nil
	}

	// children are only known through their reverse field; look them up when the
	// action runs
	return []*Action{{
		Op: OpCascadeLookup, Collection: h.target.Collection, Key: key, Field: h.reverse.field,
		run: func(ctx context.Context) ([]*Action, error) {
			children, err := h.findLinked(ctx, store.Eq(h.reverse.field, key))
			if err != nil {
				return nil, err
			}
			var actions []*Action
			for _, c := range children {
				actions = append(actions, h.cascade(c, key))
			}
			return compact(actions...), nil
		},
	}}, nil
}
