package shape

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	timeType      = reflect.TypeOf(time.Time{})
	localDateType = reflect.TypeOf(LocalDate{})
	localTimeType = reflect.TypeOf(LocalTime{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
)

// Resolver turns declared Go types into TypeShapes. It owns the enum registry.
type Resolver struct {
	mu    sync.RWMutex
	enums map[reflect.Type]*EnumTable
}

// NewResolver creates a resolver with an empty enum registry
func NewResolver() *Resolver {
	return &Resolver{
		enums: make(map[reflect.Type]*EnumTable),
	}
}

// Resolve determines the shape of t
func (r *Resolver) Resolve(t reflect.Type, opts Options) (*TypeShape, error) {
	if t == nil {
		return nil, &TypeResolutionError{Reason: "nil type"}
	}

	if t.Kind() == reflect.Interface {
		if opts.Override == nil {
			return nil, &TypeResolutionError{Type: t, Reason: "no element type information and no override"}
		}
		inner, err := r.Resolve(opts.Override, Options{Date: opts.Date})
		if err != nil {
			return nil, err
		}
		boxed := *inner
		boxed.Boxed = true
		return &boxed, nil
	}

	if _, ok := r.Enum(t); ok {
		return &TypeShape{Category: CategoryEnum, Type: t}, nil
	}

	switch t {
	case timeType:
		kind := TemporalInstant
		if opts.Date {
			kind = TemporalDate
		}
		return &TypeShape{Category: CategoryTemporal, Type: t, Temporal: kind}, nil
	case localDateType:
		return &TypeShape{Category: CategoryTemporal, Type: t, Temporal: TemporalLocalDate}, nil
	case localTimeType:
		return &TypeShape{Category: CategoryTemporal, Type: t, Temporal: TemporalLocalTime}, nil
	case uuidType:
		return &TypeShape{Category: CategoryScalar, Type: t}, nil
	}

	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return &TypeShape{Category: CategoryScalar, Type: t}, nil

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return &TypeShape{Category: CategoryBinary, Type: t}, nil
		}
		elem, err := r.Resolve(t.Elem(), Options{Override: opts.Override})
		if err != nil {
			return nil, err
		}
		return &TypeShape{Category: CategoryList, Type: t, Elem: elem}, nil

	case reflect.Array:
		elem, err := r.Resolve(t.Elem(), Options{Override: opts.Override})
		if err != nil {
			return nil, err
		}
		return &TypeShape{Category: CategoryArray, Type: t, Elem: elem}, nil

	case reflect.Map:
		key, err := r.resolveMapKey(t.Key())
		if err != nil {
			return nil, err
		}
		if isEmptyStruct(t.Elem()) || (opts.Set && t.Elem().Kind() == reflect.Bool) {
			return &TypeShape{Category: CategorySet, Type: t, Elem: key}, nil
		}
		value, err := r.Resolve(t.Elem(), Options{Override: opts.Override})
		if err != nil {
			return nil, err
		}
		return &TypeShape{Category: CategoryMap, Type: t, Key: key, Value: value}, nil

	case reflect.Ptr:
		elem, err := r.Resolve(t.Elem(), opts)
		if err != nil {
			return nil, err
		}
		return &TypeShape{Category: CategoryOptional, Type: t, Elem: elem}, nil

	case reflect.Struct:
		return &TypeShape{Category: CategoryNested, Type: t}, nil
	}

	return nil, &TypeResolutionError{Type: t, Reason: fmt.Sprintf("unsupported kind %s", t.Kind())}
}

// resolveMapKey accepts string-like, integer and enum keys
func (r *Resolver) resolveMapKey(t reflect.Type) (*TypeShape, error) {
	if _, ok := r.Enum(t); ok {
		return &TypeShape{Category: CategoryEnum, Type: t}, nil
	}
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &TypeShape{Category: CategoryScalar, Type: t}, nil
	}
	if t == uuidType {
		return &TypeShape{Category: CategoryScalar, Type: t}, nil
	}
	return nil, &TypeResolutionError{Type: t, Reason: "map keys must be strings, integers, uuids or enums"}
}

func isEmptyStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.NumField() == 0
}

// EnumTable holds the two-way name mapping of one enum type
type EnumTable struct {
	Type   reflect.Type
	byName map[string]reflect.Value
	names  map[interface{}]string
}

// Name returns the canonical name of v
func (e *EnumTable) Name(v reflect.Value) (string, bool) {
	name, ok := e.names[v.Interface()]
	return name, ok
}

// Value returns the constant registered under name
func (e *EnumTable) Value(name string) (reflect.Value, bool) {
	v, ok := e.byName[name]
	return v, ok
}

// Names returns the registered names in sorted order
func (e *EnumTable) Names() []string {
	names := make([]string, 0, len(e.byName))
	for name := range e.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterEnum registers the constants of an enum type. Names come from fmt.Sprint,
// so types implementing fmt.Stringer are named by their String method.
func (r *Resolver) RegisterEnum(t reflect.Type, values []interface{}) error {
	if len(values) == 0 {
		return &TypeResolutionError{Type: t, Reason: "enum has no values"}
	}
	if !t.Comparable() {
		return &TypeResolutionError{Type: t, Reason: "enum type is not comparable"}
	}

	table := &EnumTable{
		Type:   t,
		byName: make(map[string]reflect.Value, len(values)),
		names:  make(map[interface{}]string, len(values)),
	}
	for _, v := range values {
		rv := reflect.ValueOf(v)
		if rv.Type() != t {
			return &TypeResolutionError{Type: t, Reason: fmt.Sprintf("enum value %v has type %s", v, rv.Type())}
		}
		name := fmt.Sprint(v)
		if _, dup := table.byName[name]; dup {
			return &TypeResolutionError{Type: t, Reason: fmt.Sprintf("duplicate enum name %q", name)}
		}
		table.byName[name] = rv
		table.names[v] = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.enums[t] = table
	return nil
}

// Enum returns the table registered for t
func (r *Resolver) Enum(t reflect.Type) (*EnumTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.enums[t]
	return table, ok
}

// RegisterEnum is the typed form of Resolver.RegisterEnum
func RegisterEnum[E comparable](r *Resolver, values ...E) error {
	boxed := make([]interface{}, len(values))
	for i, v := range values {
		boxed[i] = v
	}
	return r.RegisterEnum(reflect.TypeOf((*E)(nil)).Elem(), boxed)
}
