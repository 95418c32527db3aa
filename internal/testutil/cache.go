package testutil

import (
	"context"
	"sync"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Cache is an in-memory domain.OpinionCache that counts writes.
type Cache struct {
	mu   sync.Mutex
	ops  map[uint64]domain.Opinion
	sets int
}

// NewCache returns an empty Cache.
func NewCache() *Cache { return &Cache{ops: make(map[uint64]domain.Opinion)} }

// Set implements domain.OpinionCache.
func (c *Cache) Set(_ context.Context, o domain.Opinion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops[o.ID] = o.Clone()
	c.sets++
	return nil
}

// Get implements domain.OpinionCache.
func (c *Cache) Get(_ context.Context, id uint64) (domain.Opinion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.ops[id]
	if !ok {
		return domain.Opinion{}, domain.ErrNotFound
	}
	return o.Clone(), nil
}

// Invalidate implements domain.OpinionCache.
func (c *Cache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ops, id)
	return nil
}

// Sets reports how many writes the cache has taken.
func (c *Cache) Sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}
