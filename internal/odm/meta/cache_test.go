package meta

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type audit struct {
	CreatedAt time.Time
}

type person struct {
	audit
	ID       string
	Name     string `doc:"fullName"`
	Age      int    `doc:",omitempty"`
	Secret   string `doc:"-"`
	nickname string
}

func (p *person) Nickname() string     { return p.nickname }
func (p *person) SetNickname(n string) { p.nickname = n }

type account struct {
	ID      string
	Owner   string
	created time.Time
}

func (a *account) Created() time.Time { return a.created }

func newAccount(id string, created time.Time) *account {
	return &account{ID: id, created: created}
}

func newAccountWithOwner(id, owner string, created time.Time) (account, error) {
	if owner == "" {
		return account{}, errors.New("owner required")
	}
	return account{ID: id, Owner: owner, created: created}, nil
}

type parent struct {
	ID       string
	Children []string `doc:"childIds"`
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func TestCache_Discovery(t *testing.T) {
	c := NewCache()
	md, err := c.Of(typeOf[person]())
	require.NoError(t, err)

	assert.Equal(t, "person", md.Collection)

	var fields []string
	for _, p := range md.Properties {
		fields = append(fields, p.Field)
	}
	assert.Equal(t, []string{"createdAt", "_id", "fullName", "age", "nickname"}, fields)

	key := md.Key()
	require.NotNil(t, key)
	assert.Equal(t, "ID", key.Name)
	assert.Equal(t, KeyField, key.Field)
	assert.True(t, key.Key)
	for _, name := range []string{"ID", "id", KeyField} {
		p, ok := md.Property(name)
		require.True(t, ok, name)
		assert.Same(t, key, p)
	}

	age, ok := md.Property("age")
	require.True(t, ok)
	assert.True(t, age.OmitEmpty)

	_, ok = md.Property("Secret")
	assert.False(t, ok)

	byGoName, ok := md.Property("Name")
	require.True(t, ok)
	assert.Equal(t, "fullName", byGoName.Field)
}

func TestCache_Accessors(t *testing.T) {
	c := NewCache()
	md, err := c.Of(typeOf[person]())
	require.NoError(t, err)

	p := &person{ID: "p1", Name: "Ada"}
	p.CreatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	obj := reflect.ValueOf(p).Elem()

	nick, _ := md.Property("nickname")
	assert.False(t, nick.ReadOnly)
	require.NoError(t, nick.Set(obj, reflect.ValueOf("ada")))
	assert.Equal(t, "ada", p.Nickname())
	assert.Equal(t, "ada", nick.Get(obj).Interface())

	created, _ := md.Property("createdAt")
	assert.Equal(t, p.CreatedAt, created.Get(obj).Interface())

	name, _ := md.Property("fullName")
	require.NoError(t, name.Set(obj, reflect.ValueOf("Grace")))
	assert.Equal(t, "Grace", p.Name)

	err = name.Set(obj, reflect.ValueOf([]int{1}))
	assert.Error(t, err)

	key, err := md.KeyOf(reflect.ValueOf(p))
	require.NoError(t, err)
	assert.Equal(t, "p1", key.Interface())
}

func TestCache_ReadOnlyAndConstructors(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Register(typeOf[account](), EntityConfig{
		Collection: "accounts",
		Constructors: []Constructor{
			{Params: []string{"ID", "created"}, Fn: newAccount},
			{Params: []string{"ID", "Owner", "created"}, Fn: newAccountWithOwner},
		},
	}))

	md, err := c.Of(typeOf[account]())
	require.NoError(t, err)
	assert.Equal(t, "accounts", md.Collection)

	created, ok := md.Property("created")
	require.True(t, ok)
	assert.True(t, created.ReadOnly)
	assert.True(t, created.ConstructorSettable)
	assert.Error(t, created.Set(reflect.ValueOf(&account{}).Elem(), reflect.ValueOf(time.Now())))

	when := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("widest covered constructor wins", func(t *testing.T) {
		ptr, err := md.Instantiate(map[string]reflect.Value{
			"ID":      reflect.ValueOf("a1"),
			"Owner":   reflect.ValueOf("ada"),
			"Created": reflect.ValueOf(when),
		})
		require.NoError(t, err)
		a := ptr.Interface().(*account)
		assert.Equal(t, "a1", a.ID)
		assert.Equal(t, "ada", a.Owner)
		assert.Equal(t, when, a.Created())
	})

	t.Run("partial data picks narrower constructor", func(t *testing.T) {
		ptr, err := md.Instantiate(map[string]reflect.Value{
			"ID":      reflect.ValueOf("a2"),
			"Created": reflect.ValueOf(when),
		})
		require.NoError(t, err)
		a := ptr.Interface().(*account)
		assert.Equal(t, "a2", a.ID)
		assert.Equal(t, when, a.Created())
	})

	t.Run("no covering constructor falls back to zero value", func(t *testing.T) {
		ptr, err := md.Instantiate(map[string]reflect.Value{
			"Owner": reflect.ValueOf("ada"),
		})
		require.NoError(t, err)
		a := ptr.Interface().(*account)
		assert.Equal(t, "ada", a.Owner)
		assert.True(t, a.Created().IsZero())
	})

	t.Run("constructor errors propagate", func(t *testing.T) {
		_, err := md.Instantiate(map[string]reflect.Value{
			"ID":      reflect.ValueOf("a3"),
			"Owner":   reflect.ValueOf(""),
			"Created": reflect.ValueOf(when),
		})
		assert.ErrorContains(t, err, "owner required")
	})
}

func TestCache_Relationships(t *testing.T) {
	type child struct {
		ID     string
		Parent string
	}

	c := NewCache()
	require.NoError(t, c.Register(typeOf[child](), EntityConfig{
		Relationships: map[string]RelationshipDescriptor{
			"Parent": {
				Cardinality: CardinalityToOne,
				Target:      reflect.TypeOf(&parent{}),
				Reverse:     "childIds",
				Cascade:     CascadeSetNull,
			},
		},
	}))

	md, err := c.Of(typeOf[child]())
	require.NoError(t, err)

	rels := md.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, "parent", rels[0].Field)
	assert.Equal(t, typeOf[parent](), rels[0].Relationship.Target)
	assert.True(t, rels[0].Relationship.Bidirectional())
}

func TestCache_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  EntityConfig
	}{
		{"unknown key", EntityConfig{Key: "Missing"}},
		{"relationship on unknown property", EntityConfig{Relationships: map[string]RelationshipDescriptor{
			"Nope": {Target: typeOf[parent]()},
		}}},
		{"relationship without target", EntityConfig{Relationships: map[string]RelationshipDescriptor{
			"Owner": {},
		}}},
		{"relationship to non-struct", EntityConfig{Relationships: map[string]RelationshipDescriptor{
			"Owner": {Target: typeOf[string]()},
		}}},
		{"relationship on key", EntityConfig{Relationships: map[string]RelationshipDescriptor{
			"ID": {Target: typeOf[parent]()},
		}}},
		{"override for unknown property", EntityConfig{Overrides: map[string]reflect.Type{"nope": typeOf[string]()}}},
		{"constructor not a func", EntityConfig{Constructors: []Constructor{{Fn: 42}}}},
		{"constructor arity", EntityConfig{Constructors: []Constructor{{Params: []string{"ID"}, Fn: newAccount}}}},
		{"constructor parameter type", EntityConfig{Constructors: []Constructor{{Params: []string{"Owner", "ID"}, Fn: newAccount}}}},
		{"constructor unknown parameter", EntityConfig{Constructors: []Constructor{{Params: []string{"ID", "Nope"}, Fn: newAccount}}}},
		{"constructor return type", EntityConfig{Constructors: []Constructor{{Params: []string{"ID"}, Fn: func(string) string { return "" }}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache()
			require.NoError(t, c.Register(typeOf[account](), tt.cfg))
			_, err := c.Of(typeOf[account]())
			require.Error(t, err)
			assert.True(t, IsConfiguration(err), "got %v", err)

			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestCache_UnresolvablePropertyType(t *testing.T) {
	type bad struct {
		ID string
		Ch chan int
	}
	_, err := NewCache().Of(typeOf[bad]())
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "Ch")
}

func TestCache_NonStruct(t *testing.T) {
	c := NewCache()
	_, err := c.Of(typeOf[string]())
	assert.True(t, IsConfiguration(err))
	assert.True(t, IsConfiguration(c.Register(typeOf[int](), EntityConfig{})))
	_, err = c.Of(nil)
	assert.True(t, IsConfiguration(err))
}

func TestCache_RegisterAfterBuild(t *testing.T) {
	c := NewCache()
	_, err := c.Of(typeOf[parent]())
	require.NoError(t, err)

	err = c.Register(typeOf[parent](), EntityConfig{Collection: "late"})
	assert.True(t, IsConfiguration(err))
}

func TestCache_ConcurrentFirstAccessBuildsOnce(t *testing.T) {
	c := NewCache()
	const n = 64

	results := make([]*ClassMetadata, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			md, err := c.Of(reflect.TypeOf(&person{}))
			if err == nil {
				results[i] = md
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), c.BuildCount())
	for _, md := range results {
		assert.Same(t, results[0], md)
	}
}

func TestCache_Reset(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Register(typeOf[parent](), EntityConfig{Collection: "parents"}))

	first, err := c.Of(typeOf[parent]())
	require.NoError(t, err)
	c.Reset()
	second, err := c.Of(typeOf[parent]())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, "parents", second.Collection)
	assert.Equal(t, int64(2), c.BuildCount())
}

func TestLowerFirst(t *testing.T) {
	for in, want := range map[string]string{
		"Name":    "name",
		"ID":      "id",
		"URLPath": "urlPath",
		"X":       "x",
		"already": "already",
	} {
		assert.Equal(t, want, lowerFirst(in), in)
	}
}

func TestParseCascadeMode(t *testing.T) {
	m, err := ParseCascadeMode("set-null")
	require.NoError(t, err)
	assert.Equal(t, CascadeSetNull, m)
	assert.Equal(t, "delete", CascadeDelete.String())

	_, err = ParseCascadeMode("explode")
	assert.Error(t, err)
}
