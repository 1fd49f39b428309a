// Package shape resolves the document-facing shape of Go types.
//
// A TypeShape is derived purely from static reflect.Type information and tells the
// codec compiler which writer/reader pair a property needs: scalars, enums, temporal
// values, containers (list, set, map, array, optional) and nested structs.
package shape

import (
	"errors"
	"fmt"
	"reflect"
)

// Category is the top-level classification of a TypeShape
type Category int

const (
	CategoryScalar Category = iota
	CategoryEnum
	CategoryTemporal
	CategoryBinary
	CategoryList
	CategorySet
	CategoryMap
	CategoryOptional
	CategoryArray
	CategoryNested
)

// String returns the string representation of the category
func (c Category) String() string {
	switch c {
	case CategoryScalar:
		return "scalar"
	case CategoryEnum:
		return "enum"
	case CategoryTemporal:
		return "temporal"
	case CategoryBinary:
		return "binary"
	case CategoryList:
		return "list"
	case CategorySet:
		return "set"
	case CategoryMap:
		return "map"
	case CategoryOptional:
		return "optional"
	case CategoryArray:
		return "array"
	case CategoryNested:
		return "nested"
	default:
		return "unknown"
	}
}

// IsContainer returns true for categories that carry element shapes
func (c Category) IsContainer() bool {
	switch c {
	case CategoryList, CategorySet, CategoryMap, CategoryArray, CategoryOptional:
		return true
	}
	return false
}

// TemporalKind names the sub-kind of a temporal shape
type TemporalKind int

const (
	TemporalNone TemporalKind = iota
	TemporalInstant
	TemporalDate
	TemporalLocalDate
	TemporalLocalTime
)

// String returns the string representation of the temporal kind
func (k TemporalKind) String() string {
	switch k {
	case TemporalInstant:
		return "instant"
	case TemporalDate:
		return "date"
	case TemporalLocalDate:
		return "local-date"
	case TemporalLocalTime:
		return "local-time"
	default:
		return "none"
	}
}

// TypeShape describes how a declared Go type maps onto the document model
type TypeShape struct {
	Category Category
	Type     reflect.Type // declared (or override) type
	Temporal TemporalKind

	// Boxed is set when the declared slot is an interface{} and Type came from an override
	Boxed bool

	Elem  *TypeShape // list, set, array, optional
	Key   *TypeShape // map
	Value *TypeShape // map
}

// String returns a compact representation such as list<string> or map<string,int64>
func (s *TypeShape) String() string {
	switch s.Category {
	case CategoryList, CategorySet, CategoryArray, CategoryOptional:
		return fmt.Sprintf("%s<%s>", s.Category, s.Elem)
	case CategoryMap:
		return fmt.Sprintf("map<%s,%s>", s.Key, s.Value)
	case CategoryTemporal:
		return fmt.Sprintf("temporal(%s)", s.Temporal)
	case CategoryScalar, CategoryEnum, CategoryNested, CategoryBinary:
		return fmt.Sprintf("%s(%s)", s.Category, s.Type)
	default:
		return "unknown"
	}
}

// Nullable returns true if the Go type has a nil value
func (s *TypeShape) Nullable() bool {
	switch s.Type.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return s.Boxed
}

// Options carries per-property hints that static types cannot express
type Options struct {
	// Override supplies the element type for interface{} slots
	Override reflect.Type
	// Date marks a time.Time property as date-only
	Date bool
	// Set marks a map[K]bool property as a set
	Set bool
}

// ErrTypeResolution is the sentinel wrapped by every TypeResolutionError
var ErrTypeResolution = errors.New("type resolution failed")

// TypeResolutionError reports a type that cannot be mapped onto the document model
type TypeResolutionError struct {
	Type   reflect.Type
	Reason string
}

// Error implements the error interface
func (e *TypeResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve shape of %v: %s", e.Type, e.Reason)
}

// Unwrap returns ErrTypeResolution
func (e *TypeResolutionError) Unwrap() error {
	return ErrTypeResolution
}

// IsTypeResolution returns true if the error is a TypeResolutionError
func IsTypeResolution(err error) bool {
	return errors.Is(err, ErrTypeResolution)
}
