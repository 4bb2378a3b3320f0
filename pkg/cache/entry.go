package cache

import (
	"net/http"
	"time"
)

// CacheEntry represents a cached GitHub response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag"`

	// Expires ends the freshness announced by Cache-Control or Expires.
	// A stale entry is still usable as the base of a conditional request.
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header
	LastModified time.Time `json:"last_modified"`

	// NoStore is set when the response forbade caching
	NoStore bool `json:"no_store,omitempty"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers, including Link
	Headers http.Header `json:"headers"`

	// CachedAt is when the body was fetched
	CachedAt time.Time `json:"cached_at"`

	// ValidatedAt is the last 304 that confirmed the body
	ValidatedAt time.Time `json:"validated_at,omitempty"`
}

// Fresh reports whether the entry is within its announced freshness.
func (e *CacheEntry) Fresh() bool {
	return time.Now().Before(e.Expires)
}

// Revalidatable reports whether GitHub can confirm the entry with a 304.
func (e *CacheEntry) Revalidatable() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// TTL returns the freshness left, 0 once stale.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Retention returns how long the entry should stay in Redis: its freshness,
// stretched to window when it can be revalidated.
func (e *CacheEntry) Retention(window time.Duration) time.Duration {
	if e.NoStore {
		return 0
	}
	ttl := e.TTL()
	if e.Revalidatable() && window > ttl {
		return window
	}
	return ttl
}
