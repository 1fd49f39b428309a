package meta

import (
	"fmt"
	"reflect"
	"sort"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// constructor is a validated Constructor bound to property descriptors
type constructor struct {
	params   []*PropertyDescriptor
	fn       reflect.Value
	pointer  bool // returns *T instead of T
	hasError bool
}

func (m *ClassMetadata) bindConstructors(ctors []Constructor) error {
	for i, c := range ctors {
		fn := reflect.ValueOf(c.Fn)
		if fn.Kind() != reflect.Func {
			return configErr(m.Type, "", fmt.Sprintf("constructor %d is not a function", i), nil)
		}
		ft := fn.Type()
		if ft.NumIn() != len(c.Params) {
			return configErr(m.Type, "", fmt.Sprintf("constructor %d takes %d parameters but names %d", i, ft.NumIn(), len(c.Params)), nil)
		}

		bound := &constructor{fn: fn}
		switch {
		case ft.NumOut() == 1:
		case ft.NumOut() == 2 && ft.Out(1) == errorType:
			bound.hasError = true
		default:
			return configErr(m.Type, "", fmt.Sprintf("constructor %d must return %s or (%s, error)", i, m.Type, m.Type), nil)
		}
		switch ft.Out(0) {
		case m.Type:
		case reflect.PointerTo(m.Type):
			bound.pointer = true
		default:
			return configErr(m.Type, "", fmt.Sprintf("constructor %d returns %s", i, ft.Out(0)), nil)
		}

		for j, name := range c.Params {
			p, ok := m.byName[name]
			if !ok {
				return configErr(m.Type, name, fmt.Sprintf("constructor %d names unknown property", i), nil)
			}
			if ft.In(j) != p.Type {
				return configErr(m.Type, name, fmt.Sprintf("constructor %d parameter %d is %s, property is %s", i, j, ft.In(j), p.Type), nil)
			}
			p.ConstructorSettable = true
			bound.params = append(bound.params, p)
		}
		m.constructors = append(m.constructors, bound)
	}

	// most parameters first so partial data picks the best-covering constructor
	sort.SliceStable(m.constructors, func(i, j int) bool {
		return len(m.constructors[i].params) > len(m.constructors[j].params)
	})
	return nil
}

// Instantiate builds a new instance from decoded property values keyed by Go name.
// It picks the constructor with the most parameters that are all present in values,
// falls back to the zero value, and assigns the remaining values through setters.
// It returns a pointer to the new struct.
func (m *ClassMetadata) Instantiate(values map[string]reflect.Value) (reflect.Value, error) {
	var (
		ptr      reflect.Value
		consumed map[string]bool
	)

	for _, c := range m.constructors {
		if !c.covers(values) {
			continue
		}
		args := make([]reflect.Value, len(c.params))
		consumed = make(map[string]bool, len(c.params))
		for i, p := range c.params {
			args[i] = values[p.Name]
			consumed[p.Name] = true
		}
		out := c.fn.Call(args)
		if c.hasError && !out[1].IsNil() {
			return reflect.Value{}, fmt.Errorf("constructing %s: %w", m.Type, out[1].Interface().(error))
		}
		if c.pointer {
			if out[0].IsNil() {
				return reflect.Value{}, fmt.Errorf("constructing %s: constructor returned nil", m.Type)
			}
			ptr = out[0]
		} else {
			ptr = reflect.New(m.Type)
			ptr.Elem().Set(out[0])
		}
		break
	}
	if !ptr.IsValid() {
		ptr = reflect.New(m.Type)
	}

	obj := ptr.Elem()
	for _, p := range m.Properties {
		v, ok := values[p.Name]
		if !ok || consumed[p.Name] || p.ReadOnly {
			continue
		}
		if err := p.Set(obj, v); err != nil {
			return reflect.Value{}, err
		}
	}
	return ptr, nil
}

func (c *constructor) covers(values map[string]reflect.Value) bool {
	for _, p := range c.params {
		if _, ok := values[p.Name]; !ok {
			return false
		}
	}
	return true
}
