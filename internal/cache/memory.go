package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dkostenko/carnet/internal/user/entity"
)

// MemoryCache is the in-process implementation used when no redis address
// is configured, and as the seam for tests. Same read-through contract as
// RedisCache; entries expire by TTL, never by causal ordering with writes.
type MemoryCache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	snap      entity.Snapshot
	expiresAt time.Time
}

// NewMemoryCache constructs a MemoryCache. ttl == 0 means DefaultTTL.
func NewMemoryCache(loader Loader, ttl time.Duration) *MemoryCache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) GetOrLoad(ctx context.Context, subject string) (*entity.Snapshot, error) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey(subject)]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		snap := e.snap
		return &snap, nil
	}

	snap, err := c.loader(ctx, subject)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[cacheKey(subject)] = memoryEntry{snap: *snap, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return snap, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, subject string) error {
	c.mu.Lock()
	delete(c.entries, cacheKey(subject))
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error { return nil }

// Len reports the number of live entries, for tests and metrics.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
