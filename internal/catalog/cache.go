package catalog

import (
	"context"
	"log/slog"
	"sync"
)

// Cache memoizes the registry's tool catalog for the life of a run.
// Population is lazy; concurrent first callers coalesce behind the
// mutex so the registry sees a single fetch.
type Cache struct {
	invoker Invoker
	logger  *slog.Logger

	mu     sync.Mutex
	loaded bool
	specs  []ToolSpec
	byName map[string]*ToolSpec
}

// NewCache wraps an invoker with catalog memoization.
func NewCache(invoker Invoker, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{invoker: invoker, logger: logger}
}

// GetAll returns every cached tool spec, fetching on first use.
func (c *Cache) GetAll(ctx context.Context) ([]ToolSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]ToolSpec, len(c.specs))
	copy(out, c.specs)
	return out, nil
}

// GetByName returns one tool spec. A miss triggers a single reload in
// case the registry gained tools since the catalog was cached.
func (c *Cache) GetByName(ctx context.Context, name string) (*ToolSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	if spec, ok := c.byName[name]; ok {
		return spec, nil
	}

	c.loaded = false
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	if spec, ok := c.byName[name]; ok {
		return spec, nil
	}
	return nil, nil
}

// Invalidate discards the cached catalog; the next read refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.specs = nil
	c.byName = nil
}

func (c *Cache) ensureLoadedLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	specs, err := c.invoker.ListTools(ctx)
	if err != nil {
		return err
	}
	c.specs = specs
	c.byName = make(map[string]*ToolSpec, len(specs))
	for i := range c.specs {
		c.byName[c.specs[i].Name] = &c.specs[i]
	}
	c.loaded = true
	c.logger.Debug("tool catalog cached", "tools", len(specs))
	return nil
}
