// Package meta provides the property accessor cache for the document mapper.
// ClassMetadata is computed once per struct type and shared read-only afterwards.
package meta

import (
	"fmt"
	"reflect"

	"github.com/conduit-lang/docmap/internal/odm/shape"
)

// KeyField is the document field that holds every entity's key
const KeyField = "_id"

// Cardinality selects the relationship handler for a field
type Cardinality int

const (
	// CardinalityAuto infers to-one or to-many from the property shape
	CardinalityAuto Cardinality = iota
	CardinalityToOne
	CardinalityToMany
	CardinalityManyToMany
)

// String returns the string representation of the cardinality
func (c Cardinality) String() string {
	switch c {
	case CardinalityAuto:
		return "auto"
	case CardinalityToOne:
		return "to_one"
	case CardinalityToMany:
		return "to_many"
	case CardinalityManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// CascadeMode is applied to a linked child when its link is removed or its owner deleted
type CascadeMode int

const (
	CascadeIgnore CascadeMode = iota
	CascadeSetNull
	CascadeDelete
)

// String returns the string representation of the cascade mode
func (c CascadeMode) String() string {
	switch c {
	case CascadeIgnore:
		return "ignore"
	case CascadeSetNull:
		return "set_null"
	case CascadeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseCascadeMode converts a string to a CascadeMode
func ParseCascadeMode(s string) (CascadeMode, error) {
	switch s {
	case "ignore":
		return CascadeIgnore, nil
	case "set_null", "set-null":
		return CascadeSetNull, nil
	case "delete":
		return CascadeDelete, nil
	default:
		return 0, fmt.Errorf("unknown cascade mode: %s", s)
	}
}

// RelationshipDescriptor is the declarative metadata of one relationship field
type RelationshipDescriptor struct {
	Cardinality Cardinality
	Target      reflect.Type
	// Reverse names the property on Target that points back; empty means unidirectional
	Reverse            string
	Cascade            CascadeMode
	AddLinkOnCreate    bool
	RemoveLinkOnDelete bool
}

// Bidirectional returns true if the relationship has a reverse field
func (r *RelationshipDescriptor) Bidirectional() bool {
	return r.Reverse != ""
}

// Constructor declares a constructor function and the properties its parameters fill
type Constructor struct {
	Params []string
	Fn     interface{}
}

// EntityConfig is the declarative configuration attached to a type at registration
type EntityConfig struct {
	Collection    string
	Key           string
	Relationships map[string]RelationshipDescriptor
	Constructors  []Constructor
	// Overrides supplies element types for interface{} slots, keyed by property name
	Overrides map[string]reflect.Type
}

// PropertyDescriptor describes one mapped property of a struct
type PropertyDescriptor struct {
	Name  string // Go name
	Field string // document field name
	Type  reflect.Type
	Shape *shape.TypeShape

	ReadOnly            bool
	ConstructorSettable bool
	Key                 bool
	OmitEmpty           bool

	Relationship *RelationshipDescriptor

	get func(obj reflect.Value) reflect.Value
	set func(obj reflect.Value, v reflect.Value)
}

// Get returns the property value of obj, which must be an addressable struct value
func (p *PropertyDescriptor) Get(obj reflect.Value) reflect.Value {
	return p.get(obj)
}

// Set assigns v to the property of obj. Read-only properties cannot be set.
func (p *PropertyDescriptor) Set(obj reflect.Value, v reflect.Value) error {
	if p.ReadOnly {
		return fmt.Errorf("property %s is read-only", p.Name)
	}
	if !v.IsValid() {
		v = reflect.Zero(p.Type)
	}
	if v.Type() != p.Type {
		if !v.Type().ConvertibleTo(p.Type) {
			return fmt.Errorf("property %s: cannot assign %s to %s", p.Name, v.Type(), p.Type)
		}
		v = v.Convert(p.Type)
	}
	p.set(obj, v)
	return nil
}

// IsRelationship returns true if the property routes through a relationship handler
func (p *PropertyDescriptor) IsRelationship() bool {
	return p.Relationship != nil
}

// ClassMetadata is the immutable, cached introspection result for one struct type
type ClassMetadata struct {
	Type       reflect.Type
	Collection string
	Properties []*PropertyDescriptor

	byName       map[string]*PropertyDescriptor
	key          *PropertyDescriptor
	constructors []*constructor
}

// Key returns the key property, or nil for value types without one
func (m *ClassMetadata) Key() *PropertyDescriptor {
	return m.key
}

// Property finds a property by Go name or document field name
func (m *ClassMetadata) Property(name string) (*PropertyDescriptor, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// Relationships returns the properties carrying relationship descriptors
func (m *ClassMetadata) Relationships() []*PropertyDescriptor {
	var rels []*PropertyDescriptor
	for _, p := range m.Properties {
		if p.IsRelationship() {
			rels = append(rels, p)
		}
	}
	return rels
}

// New returns a pointer to a zero instance
func (m *ClassMetadata) New() reflect.Value {
	return reflect.New(m.Type)
}

// KeyOf returns the key value of obj
func (m *ClassMetadata) KeyOf(obj reflect.Value) (reflect.Value, error) {
	if m.key == nil {
		return reflect.Value{}, fmt.Errorf("%s has no key property", m.Type)
	}
	return m.key.Get(Indirect(obj)), nil
}

// Indirect dereferences pointers until it reaches a struct value
func Indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
