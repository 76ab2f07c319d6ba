// Package cache memoizes permission decisions for a short TTL.
//
// Two implementations share the Cache interface:
//
//   - MemoryCache keeps decisions in process, in a fixed number of shards each
//     holding an expirable LRU. Users are hashed onto shards with xxhash.
//     Invalidating a user bumps that user's generation; invalidating everything
//     purges all shards under an exclusive lock.
//   - RedisCache keeps each user's decisions in one Redis hash so several
//     processes share results. Invalidation is a DEL per user or an INCR of the
//     generation key for everything.
//
// Usage:
//
//	c := cache.NewMemoryCache(&cache.Config{TTL: 15 * time.Minute})
//	allowed, err := c.GetOrCompute(ctx, userID, "docs", "read", func(ctx context.Context) (bool, error) {
//		return resolveFromStore(ctx)
//	})
//
// Errors from the compute function are returned to the caller and never cached.
package cache
