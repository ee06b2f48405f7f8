// Package cache keeps fetched product pages in Redis between runs.
//
// A resumed or repeated run asks the cache before touching the network:
//
//   - A fresh entry is served directly and costs no rate-limit token.
//   - A stale entry that carries an ETag or Last-Modified is revalidated with
//     If-None-Match / If-Modified-Since. A 304 answer reuses the stored body
//     and pushes its expiry forward.
//   - Anything else is a miss and the page is fetched normally.
//
// Freshness follows the page's Cache-Control max-age, then its Expires
// header, then Config.DefaultTTL. Pages sent with Cache-Control: no-store are
// never stored. Entries stay in Redis for StaleTTL past their expiry so they
// remain available for revalidation.
//
// # Basic Usage
//
//	pages, err := cache.Open(ctx, cache.Config{RedisURL: "redis://localhost:6379/2"}, logger)
//	if err != nil {
//		return err
//	}
//	defer pages.Close()
//
//	f.SetCache(pages, pages.DefaultTTL())
//
// # Metrics
//
//   - descgen_page_cache_lookups_total{result} - fresh, stale or miss
//   - descgen_page_cache_revalidations_total{result} - not_modified or changed
//   - descgen_page_cache_stored_bytes_total - bytes written to Redis
//   - descgen_page_cache_errors_total{operation} - get, set, delete
package cache
