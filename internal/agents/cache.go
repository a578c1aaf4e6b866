package agents

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReadinessCache memoises readiness per agent for a short TTL. Concurrent
// lookups for the same agent share one validation.
//
// Invalidate must be called after every session mutation; a validation that
// was in flight when Invalidate ran is returned to its callers but not stored.
type ReadinessCache struct {
	checker ReadinessChecker
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	gen     map[string]uint64
	group   singleflight.Group

	Now func() time.Time
}

type cacheEntry struct {
	r       Readiness
	expires time.Time
}

func NewReadinessCache(checker ReadinessChecker, ttl time.Duration) *ReadinessCache {
	return &ReadinessCache{
		checker: checker,
		ttl:     ttl,
		entries: map[string]cacheEntry{},
		gen:     map[string]uint64{},
		Now:     time.Now,
	}
}

func (c *ReadinessCache) ValidateReadiness(ctx context.Context, agentID string) Readiness {
	if c.ttl <= 0 {
		return c.checker.ValidateReadiness(ctx, agentID)
	}

	c.mu.Lock()
	if e, ok := c.entries[agentID]; ok && c.Now().Before(e.expires) {
		c.mu.Unlock()
		return e.r
	}
	gen := c.gen[agentID]
	c.mu.Unlock()

	v, _, _ := c.group.Do(agentID, func() (any, error) {
		r := c.checker.ValidateReadiness(ctx, agentID)

		c.mu.Lock()
		if c.gen[agentID] == gen {
			c.entries[agentID] = cacheEntry{r: r, expires: c.Now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return r, nil
	})
	return v.(Readiness)
}

// Invalidate drops the cached readiness for agentID.
func (c *ReadinessCache) Invalidate(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, agentID)
	c.gen[agentID]++
	c.group.Forget(agentID)
}
