// Package cache provides report page caching with a Redis backend.
//
// The cache is optional: the client works without it, and enabling it only
// affects GET page fetches. Report rows for a closed period do not change,
// so pages can be served from cache for a configurable TTL, saving both
// latency and the remote API's rate budget.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Path:  "/api/v5/supplier/reportDetailByPeriod",
//		Query: url.Values{"dateFrom": []string{"2024-01-01"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the API, then:
//		// manager.Set(ctx, key, &cache.Entry{...})
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - report_cache_hits_total - cache hits
//   - report_cache_misses_total - cache misses
//   - report_cache_written_bytes_total - bytes written
//   - report_cache_errors_total{operation} - cache operation errors
//
// Expiry is enforced twice: Redis drops keys at their TTL, and Get
// double-checks the entry's own Expires timestamp against local time.
package cache
