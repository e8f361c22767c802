package schema

import (
	"context"
	"sync"
)

// CachedResolver memoizes Relation lookups by relation id. Dispatch in
// this module operates on raw Insert/Update/Delete bytes only and never
// decodes pgoutput Relation ('R') messages, so there is no wire-level
// invalidation signal to key off of; entries simply live for the lifetime
// of the CachedResolver. Callers that need fresher data after a DDL change
// should construct a new one.
type CachedResolver struct {
	inner *Resolver

	mu    sync.RWMutex
	cache map[int32]Relation
}

// NewCachedResolver wraps r with an in-memory cache.
func NewCachedResolver(r *Resolver) *CachedResolver {
	return &CachedResolver{inner: r, cache: make(map[int32]Relation)}
}

// Resolve returns the cached Relation for relationID if present, otherwise
// resolves it via the wrapped Resolver and caches the result.
func (c *CachedResolver) Resolve(ctx context.Context, q Querier, relationID int32) (Relation, error) {
	c.mu.RLock()
	rel, ok := c.cache[relationID]
	c.mu.RUnlock()
	if ok {
		return rel, nil
	}

	rel, err := c.inner.Resolve(ctx, q, relationID)
	if err != nil {
		return Relation{}, err
	}

	c.mu.Lock()
	c.cache[relationID] = rel
	c.mu.Unlock()
	return rel, nil
}
