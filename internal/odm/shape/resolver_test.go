package shape

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type color int

const (
	red color = iota
	green
)

func (c color) String() string {
	switch c {
	case red:
		return "RED"
	case green:
		return "GREEN"
	}
	return "UNKNOWN"
}

type address struct {
	City string
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func TestResolve_Categories(t *testing.T) {
	r := NewResolver()
	require.NoError(t, RegisterEnum(r, red, green))

	tests := []struct {
		name string
		typ  reflect.Type
		opts Options
		want string
	}{
		{"string", typeOf[string](), Options{}, "scalar(string)"},
		{"int64", typeOf[int64](), Options{}, "scalar(int64)"},
		{"uuid", typeOf[uuid.UUID](), Options{}, "scalar(uuid.UUID)"},
		{"enum", typeOf[color](), Options{}, "enum(shape.color)"},
		{"instant", typeOf[time.Time](), Options{}, "temporal(instant)"},
		{"date", typeOf[time.Time](), Options{Date: true}, "temporal(date)"},
		{"local date", typeOf[LocalDate](), Options{}, "temporal(local-date)"},
		{"local time", typeOf[LocalTime](), Options{}, "temporal(local-time)"},
		{"bytes", typeOf[[]byte](), Options{}, "binary([]uint8)"},
		{"list", typeOf[[]string](), Options{}, "list<scalar(string)>"},
		{"array", typeOf[[3]int](), Options{}, "array<scalar(int)>"},
		{"set", typeOf[map[string]struct{}](), Options{}, "set<scalar(string)>"},
		{"bool set", typeOf[map[color]bool](), Options{Set: true}, "set<enum(shape.color)>"},
		{"bool map", typeOf[map[string]bool](), Options{}, "map<scalar(string),scalar(bool)>"},
		{"optional", typeOf[*int](), Options{}, "optional<scalar(int)>"},
		{"nested", typeOf[address](), Options{}, "nested(shape.address)"},
		{"nested list", typeOf[[][]int](), Options{}, "list<list<scalar(int)>>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Resolve(tt.typ, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.String())
		})
	}
}

func TestResolve_InterfaceNeedsOverride(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve(typeOf[interface{}](), Options{})
	require.Error(t, err)
	assert.True(t, IsTypeResolution(err))

	_, err = r.Resolve(typeOf[[]interface{}](), Options{})
	assert.True(t, IsTypeResolution(err))

	s, err := r.Resolve(typeOf[interface{}](), Options{Override: typeOf[int64]()})
	require.NoError(t, err)
	assert.True(t, s.Boxed)
	assert.True(t, s.Nullable())
	assert.Equal(t, CategoryScalar, s.Category)

	s, err = r.Resolve(typeOf[[]interface{}](), Options{Override: typeOf[string]()})
	require.NoError(t, err)
	assert.True(t, s.Elem.Boxed)
}

func TestResolve_Unsupported(t *testing.T) {
	r := NewResolver()

	for _, typ := range []reflect.Type{
		typeOf[chan int](),
		typeOf[func()](),
		typeOf[map[float64]string](),
		typeOf[complex128](),
	} {
		_, err := r.Resolve(typ, Options{})
		assert.True(t, IsTypeResolution(err), "%s", typ)
	}

	_, err := r.Resolve(nil, Options{})
	assert.True(t, IsTypeResolution(err))
}

func TestTypeShape_Nullable(t *testing.T) {
	r := NewResolver()
	for typ, want := range map[reflect.Type]bool{
		typeOf[string]():         false,
		typeOf[*string]():        true,
		typeOf[[]string]():       true,
		typeOf[map[string]int](): true,
		typeOf[address]():        false,
	} {
		s, err := r.Resolve(typ, Options{})
		require.NoError(t, err)
		assert.Equal(t, want, s.Nullable(), "%s", typ)
	}
}

func TestRegisterEnum(t *testing.T) {
	r := NewResolver()
	require.NoError(t, RegisterEnum(r, red, green))

	table, ok := r.Enum(typeOf[color]())
	require.True(t, ok)
	assert.Equal(t, []string{"GREEN", "RED"}, table.Names())

	name, ok := table.Name(reflect.ValueOf(green))
	assert.True(t, ok)
	assert.Equal(t, "GREEN", name)

	v, ok := table.Value("RED")
	assert.True(t, ok)
	assert.Equal(t, red, v.Interface())

	_, ok = table.Value("BLUE")
	assert.False(t, ok)

	err := RegisterEnum[color](r)
	assert.True(t, IsTypeResolution(err))

	err = RegisterEnum(r, red, red)
	assert.True(t, IsTypeResolution(err))
}

func TestCivil(t *testing.T) {
	d, err := ParseLocalDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, LocalDate{Year: 2024, Month: time.February, Day: 29}, d)
	assert.Equal(t, "2024-02-29", d.String())
	assert.False(t, d.IsZero())

	_, err = ParseLocalDate("2023-02-29")
	assert.Error(t, err)

	lt, err := ParseLocalTime("13:45:07.25")
	require.NoError(t, err)
	assert.Equal(t, LocalTime{Hour: 13, Minute: 45, Second: 7, Nanosecond: 250000000}, lt)
	assert.Equal(t, "13:45:07.250000000", lt.String())

	lt, err = ParseLocalTime("08:00:00")
	require.NoError(t, err)
	assert.Equal(t, "08:00:00", lt.String())
}
