package fees

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// CACHING VERSION STORE - Chains are read once per student-month otherwise
// =============================================================================

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute
)

// CachingVersionStore memoizes chain reads. A hike through this store
// purges the cache; hikes made elsewhere become visible after the TTL.
type CachingVersionStore struct {
	VersionStore
	chains  *lru.LRU[string, []FeeVersion]
	metrics *Metrics
}

func NewCachingVersionStore(inner VersionStore, size int, ttl time.Duration, metrics *Metrics) *CachingVersionStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachingVersionStore{
		VersionStore: inner,
		chains:       lru.NewLRU[string, []FeeVersion](size, nil, ttl),
		metrics:      metrics,
	}
}

func (c *CachingVersionStore) ListVersions(ctx context.Context, schoolID generic.SchoolID, key ScopeKey, cycle Cycle) ([]FeeVersion, error) {
	k := fmt.Sprintf("chain|%s|%s|%s|%s", schoolID, key.String(), key.ScopeID, cycle)
	return c.cached(k, func() ([]FeeVersion, error) {
		return c.VersionStore.ListVersions(ctx, schoolID, key, cycle)
	})
}

func (c *CachingVersionStore) ListScopeVersions(ctx context.Context, schoolID generic.SchoolID, kind ScopeKind, scopeID string) ([]FeeVersion, error) {
	k := fmt.Sprintf("scope|%s|%s|%s", schoolID, kind, scopeID)
	return c.cached(k, func() ([]FeeVersion, error) {
		return c.VersionStore.ListScopeVersions(ctx, schoolID, kind, scopeID)
	})
}

func (c *CachingVersionStore) ApplyHike(ctx context.Context, prev *FeeVersion, next FeeVersion) error {
	if err := c.VersionStore.ApplyHike(ctx, prev, next); err != nil {
		return err
	}
	c.chains.Purge()
	return nil
}

func (c *CachingVersionStore) cached(key string, load func() ([]FeeVersion, error)) ([]FeeVersion, error) {
	if v, ok := c.chains.Get(key); ok {
		c.metrics.cache(true)
		return cloneChain(v), nil
	}
	c.metrics.cache(false)
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.chains.Add(key, cloneChain(v))
	return v, nil
}

// cloneChain keeps callers from sorting or editing cached slices.
func cloneChain(in []FeeVersion) []FeeVersion {
	out := make([]FeeVersion, len(in))
	copy(out, in)
	return out
}
