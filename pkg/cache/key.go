package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces all response cache keys in Redis.
const KeyPrefix = "gh"

// CacheKey represents a unique identifier for a cached GitHub response.
type CacheKey struct {
	// Endpoint is the request path (e.g., "/repos/octo/hello/commits")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"per_page": "100", "page": "2"})
	QueryParams url.Values

	// Principal identifies the credentials the response was fetched with.
	// Empty for anonymous requests.
	Principal string
}

// String generates a deterministic cache key string.
// Format: gh:endpoint:query1=val1:query2=val2:as=principal
//
// Example:
//
//	gh:repos/octo/hello/commits:page=2:per_page=100
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, strings.ToLower(endpoint))
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := append([]string(nil), k.QueryParams[key]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
		}
	}

	if k.Principal != "" {
		parts = append(parts, "as="+k.Principal)
	}

	return strings.Join(parts, ":")
}
