package agent

import (
	"context"
	"sync"
	"time"
)

// CachedDirectory wraps a Directory with a time-based in-process cache.
// Lookups are read-mostly; a short TTL keeps mid-call config churn out of
// active sessions without hammering the backing store.
type CachedDirectory struct {
	inner Directory
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cfg      *Config
	cachedAt time.Time
}

// NewCachedDirectory wraps inner with a TTL cache. A non-positive ttl
// defaults to 5 minutes.
func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (d *CachedDirectory) GetAgent(ctx context.Context, agentID string) (*Config, error) {
	d.mu.Lock()
	if e, ok := d.entries[agentID]; ok {
		if d.now().Sub(e.cachedAt) < d.ttl {
			d.mu.Unlock()
			return e.cfg, nil
		}
		delete(d.entries, agentID)
	}
	d.mu.Unlock()

	cfg, err := d.inner.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.entries[agentID] = cacheEntry{cfg: cfg, cachedAt: d.now()}
	d.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached entry for an agent, if any.
func (d *CachedDirectory) Invalidate(agentID string) {
	d.mu.Lock()
	delete(d.entries, agentID)
	d.mu.Unlock()
}
