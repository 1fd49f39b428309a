package relationships

import (
	"context"
	"reflect"

	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// toOne links the owner to at most one target. The target key is stored in the owner
// document; the reverse field on the target is a key collection or a single key.
type toOne struct {
	*link
}

func newToOne(l *link) (*toOne, error) {
	if l.many {
		return nil, l.configErr("to-one relationship declared on a slice field")
	}
	return &toOne{link: l}, nil
}

func (h *toOne) Property() *meta.PropertyDescriptor { return h.prop }

func (h *toOne) Stored() bool { return true }

func (h *toOne) Loaded(reflect.Value) bool { return true }

func (h *toOne) WriteLocal(obj reflect.Value, doc store.Document) error {
	k, err := h.keyOf(h.prop.Get(meta.Indirect(obj)))
	if err != nil {
		return err
	}
	if k != nil {
		doc[h.prop.Field] = k
	}
	return nil
}

func (h *toOne) ReadLocal(doc store.Document, key interface{}, obj reflect.Value) ([]*LazyResolution, error) {
	raw := doc[h.prop.Field]
	if raw == nil {
		return nil, nil
	}
	if h.form == formKey {
		v, err := h.targetKey.Reader(raw)
		if err != nil {
			return nil, err
		}
		return nil, h.prop.Set(meta.Indirect(obj), v)
	}
	return []*LazyResolution{h.lookup(obj, store.Eq(store.KeyField, raw), h.setOne)}, nil
}

func (h *toOne) Linked(_ context.Context, doc store.Document, _ interface{}) ([]interface{}, error) {
	return h.readKeys(doc[h.prop.Field]), nil
}

func (h *toOne) OnInsert(key interface{}, obj reflect.Value) ([]*Action, error) {
	if !h.desc.AddLinkOnCreate {
		return nil, nil
	}
	keys, _, err := h.currentKeys(obj)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	return compact(h.attach(keys[0], key)), nil
}

// attach points the reverse field of target at the owner. A reverse scalar that pointed
// at another owner is taken over, and that owner's local field is cleared.
func (h *toOne) attach(target, key interface{}) *Action {
	r := h.reverse
	if r == nil || !r.stored {
		return nil
	}
	s := h.env.Store
	if r.collection {
		return addToSet(s, h.target.Collection, target, r.field, key)
	}
	ownerCollection, localField := h.owner.Collection, h.prop.Field
	return setAndReturnPrevious(s, h.target.Collection, target, r.field, key, func(prev interface{}) []*Action {
		if prev == nil || store.Equal(prev, key) {
			return nil
		}
		return []*Action{compareAndUnset(s, ownerCollection, prev, localField, target)}
	})
}

func (h *toOne) OnUpdate(previous []interface{}, key interface{}, obj reflect.Value) ([]*Action, error) {
	next, _, err := h.currentKeys(obj)
	if err != nil {
		return nil, err
	}
	added, removed := diff(previous, next)

	var actions []*Action
	for _, t := range removed {
		actions = append(actions, h.cascade(t, key))
	}
	if h.desc.AddLinkOnCreate {
		for _, t := range added {
			actions = append(actions, h.attach(t, key))
		}
	}
	return compact(actions...), nil
}

func (h *toOne) OnDelete(doc store.Document, key interface{}) ([]*Action, error) {
	if !h.desc.RemoveLinkOnDelete {
		return nil, nil
	}
	var actions []*Action
	for _, t := range h.readKeys(doc[h.prop.Field]) {
		actions = append(actions, h.unlink(t, key))
	}
	return compact(actions...), nil
}
