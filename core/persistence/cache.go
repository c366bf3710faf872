package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadFunc reads a schema from the store. It returns nil when none exists.
type LoadFunc func(ctx context.Context, className string) (*schema.ClassSchema, error)

// SchemaCache keeps the committed schema of each class in memory. Loads of
// the same class are deduplicated. Every Put or Invalidate bumps the class
// generation so a load that started before a commit never installs its
// stale result. Values are cloned in and out.
type SchemaCache struct {
	mu          sync.RWMutex
	entries     map[string]*schema.ClassSchema
	generations map[string]uint64
	flight      singleflight.Group
	enabled     bool
	logger      *zap.Logger
}

// NewSchemaCache creates a cache. A disabled cache passes every lookup
// through to the loader.
func NewSchemaCache(enabled bool, logger *zap.Logger) *SchemaCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaCache{
		entries:     make(map[string]*schema.ClassSchema),
		generations: make(map[string]uint64),
		enabled:     enabled,
		logger:      logger,
	}
}

// Get returns a copy of the cached schema.
func (c *SchemaCache) Get(className string) (*schema.ClassSchema, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.RLock()
	s, ok := c.entries[className]
	c.mu.RUnlock()
	if !ok {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return s.Clone(), true
}

// Put installs a committed schema.
func (c *SchemaCache) Put(s *schema.ClassSchema) {
	if !c.enabled || s == nil {
		return
	}
	c.mu.Lock()
	c.entries[s.ClassName] = s.Clone()
	c.generations[s.ClassName]++
	c.mu.Unlock()
	c.logger.Debug("schema cached", zap.String("class", s.ClassName))
}

// Invalidate drops the entry of className.
func (c *SchemaCache) Invalidate(className string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	delete(c.entries, className)
	c.generations[className]++
	c.mu.Unlock()
	c.logger.Debug("schema invalidated", zap.String("class", className))
}

// Clear drops every entry.
func (c *SchemaCache) Clear() {
	c.mu.Lock()
	for name := range c.entries {
		c.generations[name]++
	}
	c.entries = make(map[string]*schema.ClassSchema)
	c.mu.Unlock()
}

// GetOrLoad returns the cached schema or loads it once for all concurrent
// callers. A nil result is returned as is and not cached.
func (c *SchemaCache) GetOrLoad(ctx context.Context, className string, load LoadFunc) (*schema.ClassSchema, error) {
	if !c.enabled {
		return load(ctx, className)
	}
	if s, ok := c.Get(className); ok {
		return s, nil
	}

	c.mu.RLock()
	gen := c.generations[className]
	c.mu.RUnlock()

	key := fmt.Sprintf("%s@%d", className, gen)
	result, err, _ := c.flight.Do(key, func() (any, error) {
		s, err := load(ctx, className)
		if err != nil || s == nil {
			return s, err
		}
		c.mu.Lock()
		if c.generations[className] == gen {
			c.entries[className] = s.Clone()
		}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s, _ := result.(*schema.ClassSchema)
	return s.Clone(), nil
}
