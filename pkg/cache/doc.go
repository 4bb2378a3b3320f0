// Package cache stores GitHub API responses in Redis and drives conditional requests.
//
// GitHub answers a request carrying If-None-Match with 304 Not Modified when the
// resource did not change, and such responses do not count against the rate limit.
// Repeated audits of the same repositories therefore mostly cost nothing once
// their pages are cached.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, cache.DefaultRetention)
//
//	key := cache.CacheKey{
//		Endpoint:    "/repos/octo/hello/commits",
//		QueryParams: url.Values{"per_page": []string{"100"}, "page": []string{"3"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from GitHub
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// Freshness (Cache-Control max-age, Expires) and retention are separate. An entry
// with an ETag or Last-Modified stays in Redis for the retention window after it
// went stale; Get still returns it and the client revalidates it. After a 304,
// Manager.Revalidated refreshes freshness from the 304 headers and restarts the
// retention window.
//
// # Metrics
//
//   - activity_audit_cache_hits_total{state="fresh|stale"}
//   - activity_audit_cache_misses_total
//   - activity_audit_cache_size_bytes{layer="redis"}
//   - activity_audit_cache_conditional_requests_total
//   - activity_audit_cache_not_modified_total
//   - activity_audit_cache_errors_total{operation}
package cache
