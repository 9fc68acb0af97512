package connector

import (
	"sync"
)

// defaultStrategyCacheSize bounds the per-URL strategy memory. A season of
// one track is a few thousand pages; 1000 keeps the hot set without
// growing unbounded across long refresh runs.
const defaultStrategyCacheSize = 1000

// StrategyCache is a bounded per-URL memory of whether a page needed the
// headless-browser path last time. Trimming is FIFO by insertion order.
// A capacity of 0 disables the cache entirely. Safe for concurrent use.
type StrategyCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]bool
	order    []string
}

// NewStrategyCache creates a cache bounded to the given capacity.
// Negative capacities are treated as the default.
func NewStrategyCache(capacity int) *StrategyCache {
	if capacity < 0 {
		capacity = defaultStrategyCacheSize
	}

	return &StrategyCache{
		capacity: capacity,
		entries:  make(map[string]bool),
	}
}

// RequiresRender reports whether the URL is remembered as needing the
// render path.
func (c *StrategyCache) RequiresRender(url string) bool {
	if c.capacity == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries[url]
}

// MarkRequiresRender records that the URL needed the render path. The
// oldest entry is evicted once the cache is at capacity.
func (c *StrategyCache) MarkRequiresRender(url string) {
	if c.capacity == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[url]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}

		c.order = append(c.order, url)
	}

	c.entries[url] = true
}

// Len returns the number of cached URLs.
func (c *StrategyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
