// Package cache provides small in-memory caches shared by the worker components.
package cache

import (
	"context"
	"sync"

	"github.com/River-unknown/kit/telemetry"
)

// Cache - generic cache implementation
type Cache[V any] struct {
	Cache map[string]V
	Mutex *sync.RWMutex
	Name  string
}

// NewCache - create new cache with generic type V
func NewCache[V any](name string) *Cache[V] {
	return &Cache[V]{
		Name:  name,
		Cache: make(map[string]V),
		Mutex: &sync.RWMutex{},
	}
}

// Get - fetch value from cache by key
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	c.Mutex.RLock()
	defer c.Mutex.RUnlock()

	value, found := c.Cache[key]

	telemetry.Count(ctx, c.Name+"_cache_get", 1)

	if found {
		telemetry.Count(ctx, c.Name+"_cache_hit", 1)
	} else {
		telemetry.Count(ctx, c.Name+"_cache_miss", 1)
	}

	return value, found
}

// Put - put value into cache by key
func (c *Cache[V]) Put(ctx context.Context, key string, value V) {
	c.Mutex.Lock()
	defer c.Mutex.Unlock()

	telemetry.Count(ctx, c.Name+"_cache_put", 1)
	c.Cache[key] = value
}

// GetOrLoad returns the cached value for key, calling load and caching its result on a miss.
// Failed loads are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func() (V, error)) (V, error) {
	if value, found := c.Get(ctx, key); found {
		return value, nil
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	c.Put(ctx, key, value)

	return value, nil
}
