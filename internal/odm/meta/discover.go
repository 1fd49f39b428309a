package meta

import (
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/conduit-lang/docmap/internal/odm/shape"
)

// tagOptions is the parsed form of a `doc:"name,opt,..."` struct tag
type tagOptions struct {
	name      string
	skip      bool
	omitEmpty bool
	date      bool
	set       bool
}

func parseTag(tag string) tagOptions {
	if tag == "-" {
		return tagOptions{skip: true}
	}
	parts := strings.Split(tag, ",")
	opts := tagOptions{name: parts[0]}
	for _, p := range parts[1:] {
		switch strings.TrimSpace(p) {
		case "omitempty":
			opts.omitEmpty = true
		case "date":
			opts.date = true
		case "set":
			opts.set = true
		}
	}
	return opts
}

// lowerFirst converts a Go identifier to its logical (lower camel case) name
func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	// Leading initialisms lower as a block: ID -> id, URLPath -> urlPath
	upper := 0
	for _, c := range s {
		if !unicode.IsUpper(c) {
			break
		}
		upper++
	}
	if upper > 1 && upper < len(s) {
		return strings.ToLower(s[:upper-1]) + s[upper-1:]
	}
	if upper == len(s) {
		return strings.ToLower(s)
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// candidate collects everything discovered about one logical property name
type candidate struct {
	logical string
	order   int

	field     *reflect.StructField // exported field
	hidden    *reflect.StructField // unexported field backing accessors
	getter    *reflect.Method
	setter    *reflect.Method
	valueType reflect.Type
}

// discover merges exported fields and accessor methods into property candidates
func discover(t reflect.Type) []*candidate {
	byLogical := make(map[string]*candidate)
	var ordered []*candidate

	get := func(logical string) *candidate {
		c, ok := byLogical[logical]
		if !ok {
			c = &candidate{logical: logical, order: -1}
			byLogical[logical] = c
		}
		if c.order < 0 {
			c.order = len(ordered)
			ordered = append(ordered, c)
		}
		return c
	}

	for _, f := range reflect.VisibleFields(t) {
		f := f
		if f.Anonymous {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				// promoted fields are listed separately
				continue
			}
		}
		logical := lowerFirst(f.Name)
		if f.IsExported() {
			c := get(logical)
			c.field = &f
			c.valueType = f.Type
		} else if len(f.Index) == 1 {
			// only direct unexported fields can back accessor methods
			if c, ok := byLogical[logical]; ok {
				c.hidden = &f
			} else {
				byLogical[logical] = &candidate{logical: logical, order: -1, hidden: &f}
			}
		}
	}

	pt := reflect.PointerTo(t)
	var methodOnly []*candidate
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		mt := m.Type
		if strings.HasPrefix(m.Name, "Set") && len(m.Name) > 3 && mt.NumIn() == 2 && mt.NumOut() == 0 {
			logical := lowerFirst(strings.TrimPrefix(m.Name, "Set"))
			c, ok := byLogical[logical]
			if !ok {
				c = &candidate{logical: logical, order: -1}
				byLogical[logical] = c
			}
			mm := m
			c.setter = &mm
			continue
		}
		if mt.NumIn() == 1 && mt.NumOut() == 1 {
			logical := lowerFirst(m.Name)
			c, ok := byLogical[logical]
			if !ok {
				c = &candidate{logical: logical, order: -1}
				byLogical[logical] = c
			}
			mm := m
			c.getter = &mm
		}
	}

	for _, c := range byLogical {
		if c.order >= 0 {
			continue
		}
		// accessor-only candidates need a getter and either a setter or a backing field
		if c.getter == nil || (c.setter == nil && c.hidden == nil) {
			continue
		}
		c.valueType = c.getter.Type.Out(0)
		if c.setter != nil && c.setter.Type.In(1) != c.valueType {
			continue
		}
		methodOnly = append(methodOnly, c)
	}
	sort.Slice(methodOnly, func(i, j int) bool { return methodOnly[i].logical < methodOnly[j].logical })

	for _, c := range ordered {
		if c.setter != nil && c.setter.Type.In(1) != c.valueType {
			c.setter = nil
		}
	}
	return append(ordered, methodOnly...)
}

// tag returns the doc tag of the field backing c
func (c *candidate) tag() tagOptions {
	switch {
	case c.field != nil:
		return parseTag(c.field.Tag.Get("doc"))
	case c.hidden != nil:
		return parseTag(c.hidden.Tag.Get("doc"))
	}
	return tagOptions{}
}

// accessors compiles the get/set closures for c.
// Get prefers the exported field over the getter; set prefers the setter over the field.
func (c *candidate) accessors() (get func(reflect.Value) reflect.Value, set func(reflect.Value, reflect.Value), readOnly bool) {
	switch {
	case c.field != nil:
		index := c.field.Index
		zero := reflect.Zero(c.field.Type)
		get = func(obj reflect.Value) reflect.Value {
			v, err := obj.FieldByIndexErr(index)
			if err != nil {
				return zero
			}
			return v
		}
	default:
		idx := c.getter.Index
		get = func(obj reflect.Value) reflect.Value {
			return obj.Addr().Method(idx).Call(nil)[0]
		}
	}

	switch {
	case c.setter != nil:
		idx := c.setter.Index
		set = func(obj reflect.Value, v reflect.Value) {
			obj.Addr().Method(idx).Call([]reflect.Value{v})
		}
	case c.field != nil:
		index := c.field.Index
		set = func(obj reflect.Value, v reflect.Value) {
			fieldByIndexAlloc(obj, index).Set(v)
		}
	default:
		readOnly = true
		set = func(reflect.Value, reflect.Value) {}
	}
	return get, set, readOnly
}

// fieldByIndexAlloc walks index, allocating nil embedded pointers on the way
func fieldByIndexAlloc(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

// build computes the ClassMetadata of t using cfg
func build(r *shape.Resolver, t reflect.Type, cfg EntityConfig) (*ClassMetadata, error) {
	md := &ClassMetadata{
		Type:       t,
		Collection: cfg.Collection,
		byName:     make(map[string]*PropertyDescriptor),
	}
	if md.Collection == "" {
		md.Collection = t.Name()
	}

	for _, c := range discover(t) {
		opts := c.tag()
		if opts.skip {
			continue
		}
		goName := c.logical
		switch {
		case c.field != nil:
			goName = c.field.Name
		case c.getter != nil:
			goName = c.getter.Name
		}

		p := &PropertyDescriptor{
			Name:      goName,
			Field:     opts.name,
			Type:      c.valueType,
			OmitEmpty: opts.omitEmpty,
		}
		if p.Field == "" {
			p.Field = c.logical
		}
		p.get, p.set, p.ReadOnly = c.accessors()

		override := cfg.Overrides[goName]
		if override == nil {
			override = cfg.Overrides[p.Field]
		}
		sh, err := r.Resolve(p.Type, shape.Options{Override: override, Date: opts.date, Set: opts.set})
		if err != nil {
			return nil, configErr(t, goName, "unresolvable property type", err)
		}
		p.Shape = sh

		if _, dup := md.byName[p.Field]; dup {
			return nil, configErr(t, goName, "duplicate document field "+p.Field, nil)
		}
		md.Properties = append(md.Properties, p)
		md.byName[p.Name] = p
		md.byName[p.Field] = p
	}

	if err := md.bindKey(cfg.Key); err != nil {
		return nil, err
	}
	if err := md.bindRelationships(cfg.Relationships); err != nil {
		return nil, err
	}
	for name := range cfg.Overrides {
		if _, ok := md.byName[name]; !ok {
			return nil, configErr(t, name, "override for unknown property", nil)
		}
	}
	if err := md.bindConstructors(cfg.Constructors); err != nil {
		return nil, err
	}
	return md, nil
}

func (m *ClassMetadata) bindKey(name string) error {
	if name != "" {
		p, ok := m.byName[name]
		if !ok {
			return configErr(m.Type, name, "unknown key property", nil)
		}
		m.key = p
	} else if p, ok := m.byName[KeyField]; ok {
		m.key = p
	} else if p, ok := m.byName["ID"]; ok {
		m.key = p
	}
	if m.key == nil {
		return nil
	}
	if m.key.Shape.Category != shape.CategoryScalar {
		return configErr(m.Type, m.key.Name, "key must be a scalar, got "+m.key.Shape.String(), nil)
	}
	// the key always lives in _id; its logical field name stays an alias
	m.key.Field = KeyField
	m.key.Key = true
	m.byName[m.key.Name] = m.key
	m.byName[KeyField] = m.key
	return nil
}

func (m *ClassMetadata) bindRelationships(rels map[string]RelationshipDescriptor) error {
	for name, rel := range rels {
		p, ok := m.byName[name]
		if !ok {
			return configErr(m.Type, name, "relationship on unknown property", nil)
		}
		if p.Key {
			return configErr(m.Type, name, "key property cannot be a relationship", nil)
		}
		if rel.Target == nil {
			return configErr(m.Type, name, "relationship has no target type", nil)
		}
		target := rel.Target
		for target.Kind() == reflect.Ptr {
			target = target.Elem()
		}
		if target.Kind() != reflect.Struct {
			return configErr(m.Type, name, "relationship target must be a struct type", nil)
		}
		rel := rel
		rel.Target = target
		p.Relationship = &rel
	}
	return nil
}
