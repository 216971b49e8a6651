package explain

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"spacegraph/internal/domain"
)

// Defaults for the result cache
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 200 * time.Millisecond
)

// CacheKey identifies a search against one graph version. Scope
// distinguishes searches restricted to different allowed sets.
type CacheKey struct {
	A, B    domain.GlobalID
	Limits  Limits
	Version uint64
	Scope   string
}

type cached struct {
	result Result
	added  time.Time
}

// Cache holds recent results. Entries expire after the TTL, checked on
// read, and are implicitly invalidated by any graph mutation through the
// version.
type Cache struct {
	lru *lru.Cache[CacheKey, cached]
	now func() time.Time

	mu  sync.RWMutex
	ttl time.Duration
}

// NewCache creates a result cache
func NewCache(size int, ttl time.Duration) *Cache {
	size, ttl = cacheBounds(size, ttl)
	l, err := lru.New[CacheKey, cached](size)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &Cache{lru: l, now: time.Now, ttl: ttl}
}

func cacheBounds(size int, ttl time.Duration) (int, time.Duration) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return size, ttl
}

// Configure changes the bound and TTL in place. Shrinking evicts the
// oldest entries.
func (c *Cache) Configure(size int, ttl time.Duration) {
	size, ttl = cacheBounds(size, ttl)
	c.lru.Resize(size)
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// Get returns a cached result that has not expired
func (c *Cache) Get(k CacheKey) (Result, bool) {
	e, ok := c.lru.Get(k)
	if !ok {
		return Result{}, false
	}
	c.mu.RLock()
	ttl := c.ttl
	c.mu.RUnlock()
	if c.now().Sub(e.added) >= ttl {
		c.lru.Remove(k)
		return Result{}, false
	}
	return e.result, true
}

// Add stores a result
func (c *Cache) Add(k CacheKey, r Result) {
	c.lru.Add(k, cached{result: r, added: c.now()})
}

// Len returns the number of cached results, expired ones included until
// they are read or evicted
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	c.lru.Purge()
}
