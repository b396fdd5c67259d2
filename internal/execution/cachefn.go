package execution

import (
	"context"
	"time"

	"kumascript/internal/cache"
)

// CacheFn returns the value cached under key, or runs compute and caches its
// result for ttl. Concurrent calls for the same key share one computation.
// Cache backend failures count as a miss; a compute failure is returned to
// the caller and nothing is cached.
func (c *Context) CacheFn(ctx context.Context, key string, ttl time.Duration, compute cache.ComputeFunc) (interface{}, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.lineage.cache.GetOrCompute(ctx, key, ttl, compute)
}

// Cache returns the lineage result cache
func (c *Context) Cache() *cache.Coalescer {
	return c.lineage.cache
}
