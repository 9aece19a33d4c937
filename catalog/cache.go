package catalog

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"colreduce/columnar"
)

// CacheConfig holds configuration for the column cache
type CacheConfig struct {
	MaxMemoryMB int           // Maximum memory usage in MB
	MaxEntries  int           // Maximum number of columns, 0 means 65536
	TTL         time.Duration // Entry lifetime, 0 disables expiry
}

const defaultMaxEntries = 1 << 16

// CacheStats tracks cache performance
type CacheStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Entries     int
	CurrentSize int64 // Estimated bytes held
}

type cacheEntry struct {
	column    *columnar.DictionaryColumn
	size      int64
	createdAt time.Time
}

// ColumnCache keeps decoded dictionary columns so repeated reads skip the
// store and the codec. Entries are evicted least recently used first once
// the memory budget is exceeded.
type ColumnCache struct {
	config   CacheConfig
	maxBytes int64

	mu    sync.Mutex
	cache *lru.Cache[ColumnIdentifier, *cacheEntry]
	stats CacheStats

	// removing is set while entries are dropped on purpose, so the evict
	// callback does not count them
	removing bool
	// generations of invalidated identifiers; epoch moves on Clear
	generations map[ColumnIdentifier]uint64
	epoch       uint64
}

// NewColumnCache creates a cache bounded by config.MaxMemoryMB
func NewColumnCache(config CacheConfig) (*ColumnCache, error) {
	if config.MaxMemoryMB <= 0 {
		return nil, fmt.Errorf("column cache needs a positive memory budget, got %d MB", config.MaxMemoryMB)
	}

	if config.MaxEntries < 0 {
		return nil, fmt.Errorf("column cache entry limit must not be negative, got %d", config.MaxEntries)
	}
	if config.MaxEntries == 0 {
		config.MaxEntries = defaultMaxEntries
	}

	c := &ColumnCache{
		config:      config,
		maxBytes:    int64(config.MaxMemoryMB) << 20,
		generations: make(map[ColumnIdentifier]uint64),
	}
	// called with c.mu held
	cache, err := lru.NewWithEvict(config.MaxEntries, func(_ ColumnIdentifier, e *cacheEntry) {
		c.stats.CurrentSize -= e.size
		if !c.removing {
			c.stats.Evictions++
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create column cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// Get returns a cached column if present and not expired
func (c *ColumnCache) Get(id ColumnIdentifier) (*columnar.DictionaryColumn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(id)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.config.TTL > 0 && time.Since(entry.createdAt) > c.config.TTL {
		c.remove(id)
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return entry.column, true
}

// Put stores a column, evicting old entries to stay within the budget.
// Columns larger than the whole budget are not cached.
func (c *ColumnCache) Put(id ColumnIdentifier, column *columnar.DictionaryColumn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(id, column)
}

// Generation returns a value that changes every time id is invalidated.
// Read it before loading a column and pass it to PutIfCurrent.
func (c *ColumnCache) Generation(id ColumnIdentifier) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.generations[id]
}

// PutIfCurrent stores column only if id was not invalidated since gen was
// read, so a load that raced with a replacement cannot cache the old data.
func (c *ColumnCache) PutIfCurrent(id ColumnIdentifier, column *columnar.DictionaryColumn, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch+c.generations[id] != gen {
		return false
	}
	return c.put(id, column)
}

func (c *ColumnCache) put(id ColumnIdentifier, column *columnar.DictionaryColumn) bool {
	size := column.MemorySize()
	if size > c.maxBytes {
		return false
	}

	c.remove(id)
	for c.stats.CurrentSize+size > c.maxBytes {
		if _, _, ok := c.cache.RemoveOldest(); !ok {
			break
		}
	}
	c.cache.Add(id, &cacheEntry{column: column, size: size, createdAt: time.Now()})
	c.stats.CurrentSize += size
	return true
}

func (c *ColumnCache) remove(id ColumnIdentifier) {
	c.removing = true
	c.cache.Remove(id)
	c.removing = false
}

// Invalidate drops a column from the cache
func (c *ColumnCache) Invalidate(id ColumnIdentifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[id]++
	c.remove(id)
}

// Clear removes all entries
func (c *ColumnCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.removing = true
	c.cache.Purge()
	c.removing = false
}

// Stats returns a snapshot of the cache statistics
func (c *ColumnCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Entries = c.cache.Len()
	return stats
}
