package loader

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"kumascript/internal/execution"
)

// Cached keeps compiled units of another loader for a fixed time. Failures
// are not cached.
type Cached struct {
	next  execution.Loader
	units *gocache.Cache
}

// NewCached wraps next. A ttl of zero caches units until Flush.
func NewCached(next execution.Loader, ttl time.Duration) *Cached {
	expiration := ttl
	cleanup := ttl * 2
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	}
	return &Cached{
		next:  next,
		units: gocache.New(expiration, cleanup),
	}
}

// Resolve implements execution.Loader
func (c *Cached) Resolve(ctx context.Context, name string) (execution.Unit, error) {
	key := strings.ToLower(name)
	if v, ok := c.units.Get(key); ok {
		return v.(execution.Unit), nil
	}

	unit, err := c.next.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	c.units.SetDefault(key, unit)
	return unit, nil
}

// Invalidate drops the compiled unit for name
func (c *Cached) Invalidate(name string) {
	c.units.Delete(strings.ToLower(name))
}

// Flush drops every compiled unit
func (c *Cached) Flush() {
	c.units.Flush()
}

// Len returns the number of cached units
func (c *Cached) Len() int {
	return c.units.ItemCount()
}
