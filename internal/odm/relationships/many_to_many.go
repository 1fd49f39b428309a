package relationships

import (
	"context"
	"reflect"

	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// manyToMany links owners and targets both ways. The owner field is not stored; each
// target keeps the keys of its owners in a stored key collection.
type manyToMany struct {
	*link
}

func newManyToMany(l *link) (*manyToMany, error) {
	if !l.many {
		return nil, l.configErr("many-to-many relationship declared on a non-slice field")
	}
	if l.reverse == nil {
		return nil, l.configErr("many-to-many relationship needs a reverse field")
	}
	if !l.reverse.collection || !l.reverse.stored {
		return nil, l.configErr("reverse field of a many-to-many relationship must be a stored key collection")
	}
	return &manyToMany{link: l}, nil
}

func (h *manyToMany) Property() *meta.PropertyDescriptor { return h.prop }

func (h *manyToMany) Stored() bool { return false }

func (h *manyToMany) Loaded(obj reflect.Value) bool {
	return !h.prop.Get(meta.Indirect(obj)).IsNil()
}

func (h *manyToMany) WriteLocal(reflect.Value, store.Document) error { return nil }

func (h *manyToMany) ReadLocal(_ store.Document, key interface{}, obj reflect.Value) ([]*LazyResolution, error) {
	return []*LazyResolution{h.lookup(obj, store.Contains(h.reverse.field, key), h.setMany)}, nil
}

func (h *manyToMany) Linked(ctx context.Context, _ store.Document, key interface{}) ([]interface{}, error) {
	return h.findLinked(ctx, store.Contains(h.reverse.field, key))
}

func (h *manyToMany) OnInsert(key interface{}, obj reflect.Value) ([]*Action, error) {
	keys, _, err := h.currentKeys(obj)
	if err != nil {
		return nil, err
	}
	actions := make([]*Action, 0, len(keys))
	for _, t := range keys {
		actions = append(actions, addToSet(h.env.Store, h.target.Collection, t, h.reverse.field, key))
	}
	return actions, nil
}

func (h *manyToMany) OnUpdate(previous []interface{}, key interface{}, obj reflect.Value) ([]*Action, error) {
	next, loaded, err := h.currentKeys(obj)
	if err != nil || !loaded {
		return nil, err
	}
	added, removed := diff(previous, next)

	var actions []*Action
	for _, t := range removed {
		actions = append(actions, h.cascade(t, key))
	}
	for _, t := range added {
		actions = append(actions, addToSet(h.env.Store, h.target.Collection, t, h.reverse.field, key))
	}
	return compact(actions...), nil
}

func (h *manyToMany) OnDelete(_ store.Document, key interface{}) ([]*Action, error) {
	unlink := h.desc.RemoveLinkOnDelete && h.desc.Cascade != meta.CascadeSetNull
	if h.desc.Cascade == meta.CascadeIgnore && !unlink {
		return nil, nil
	}
	return []*Action{{
		Op: OpCascadeLookup, Collection: h.target.Collection, Key: key, Field: h.reverse.field,
		run: func(ctx context.Context) ([]*Action, error) {
			targets, err := h.findLinked(ctx, store.Contains(h.reverse.field, key))
			if err != nil {
				return nil, err
			}
			var actions []*Action
			for _, t := range targets {
				if unlink && h.desc.Cascade != meta.CascadeDelete {
					actions = append(actions, h.unlink(t, key))
					continue
				}
				actions = append(actions, h.cascade(t, key))
			}
			return compact(actions...), nil
		},
	}}, nil
}
