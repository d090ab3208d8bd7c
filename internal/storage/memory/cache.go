// Package memory provides in-process storage substitutes. They reset on
// process restart; callers needing durability inject a persistent backend.
package memory

import (
	"context"
	"sync"
)

// Cache is an in-process key/value cache. It is the transparent substitute
// when no cache capability is injected into a stream client.
type Cache struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewCache creates an empty in-process cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string]string)}
}

// Get returns the stored value for key and whether one exists.
func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (c *Cache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
