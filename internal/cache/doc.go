// Package cache is the result cache shared by every context of a rendering.
//
// Three backends implement Client:
//
//  1. Memory - the in-process fallback used when no external cache is
//     configured. Backed by github.com/patrickmn/go-cache with no expiry:
//     TTLs are accepted and ignored.
//
//  2. Redis - the shared backend, using github.com/go-redis/redis/v8.
//     Values are stored as JSON, so a hit returns the decoded form
//     (objects come back as map[string]any, numbers as float64).
//
//  3. Two-tier - a short-lived local L1 in front of Redis.
//
// Coalescer layers cacheFn semantics over a Client: a read-through lookup
// where concurrent misses on the same key share a single computation, and
// backend failures degrade to a miss.
//
// Usage:
//
//	client := cache.NewMemory()
//	coalescer := cache.NewCoalescer(client)
//	value, err := coalescer.GetOrCompute(ctx, "key", time.Hour, compute)
package cache
