package meta

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/conduit-lang/docmap/internal/odm/shape"
)

// Cache builds ClassMetadata once per type and serves it lock-free afterwards
type Cache struct {
	resolver *shape.Resolver
	logger   *zap.Logger

	mu      sync.RWMutex
	configs map[reflect.Type]EntityConfig

	entries sync.Map // reflect.Type -> *ClassMetadata
	group   singleflight.Group
	builds  atomic.Int64
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the logger used for build events
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResolver replaces the shape resolver (and its enum registry)
func WithResolver(r *shape.Resolver) Option {
	return func(c *Cache) {
		if r != nil {
			c.resolver = r
		}
	}
}

// NewCache creates an empty accessor cache
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		resolver: shape.NewResolver(),
		logger:   zap.NewNop(),
		configs:  make(map[reflect.Type]EntityConfig),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default is the process-wide cache
var Default = NewCache()

// Of returns the metadata of t from the process-wide cache
func Of(t reflect.Type) (*ClassMetadata, error) {
	return Default.Of(t)
}

// Reset clears the process-wide cache
func Reset() {
	Default.Reset()
}

// Resolver returns the shape resolver, which also holds the enum registry
func (c *Cache) Resolver() *shape.Resolver {
	return c.resolver
}

// Register attaches declarative configuration to t. It must happen before the first
// metadata request for t.
func (c *Cache) Register(t reflect.Type, cfg EntityConfig) error {
	t = structType(t)
	if t.Kind() != reflect.Struct {
		return configErr(t, "", "only struct types can be registered", nil)
	}
	if _, built := c.entries.Load(t); built {
		return configErr(t, "", "metadata already built; register before first use", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[t] = cfg
	return nil
}

// Of returns the metadata of t, building it on first use. Concurrent first requests
// for the same type share one build.
func (c *Cache) Of(t reflect.Type) (*ClassMetadata, error) {
	if t == nil {
		return nil, configErr(nil, "", "nil type", nil)
	}
	t = structType(t)
	if t.Kind() != reflect.Struct {
		return nil, configErr(t, "", "only struct types can be mapped", nil)
	}

	if md, ok := c.entries.Load(t); ok {
		return md.(*ClassMetadata), nil
	}

	v, err, _ := c.group.Do(typeKey(t), func() (interface{}, error) {
		// a build that finished between Load and Do has already stored its result
		if md, ok := c.entries.Load(t); ok {
			return md, nil
		}

		c.mu.RLock()
		cfg := c.configs[t]
		c.mu.RUnlock()

		md, err := build(c.resolver, t, cfg)
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)
		c.entries.Store(t, md)
		c.logger.Debug("built class metadata",
			zap.String("type", t.String()),
			zap.String("collection", md.Collection),
			zap.Int("properties", len(md.Properties)))
		return md, nil
	})
	if err != nil {
		return nil, err
	}

	md := v.(*ClassMetadata)
	if md.Type != t {
		return nil, fmt.Errorf("metadata key collision for %s and %s", t, md.Type)
	}
	return md, nil
}

// MustOf is like Of but panics on error
func (c *Cache) MustOf(t reflect.Type) *ClassMetadata {
	md, err := c.Of(t)
	if err != nil {
		panic(err)
	}
	return md
}

// BuildCount returns how many metadata builds have completed
func (c *Cache) BuildCount() int64 {
	return c.builds.Load()
}

// Reset drops every cached ClassMetadata. Registered configuration is kept.
func (c *Cache) Reset() {
	c.entries.Range(func(k, _ interface{}) bool {
		c.entries.Delete(k)
		return true
	})
}

func structType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func typeKey(t reflect.Type) string {
	return t.PkgPath() + "." + t.String()
}
