// Package metrics exposes the Prometheus registry of the activity audit.
// Metrics are defined in their respective packages (client, cache, ratelimit,
// counter, reconcile) and registered via promauto; this package serves them
// and documents the full set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the audit.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - activity_audit_github_requests_remaining (Gauge): GitHub core requests left in the window
//   - activity_audit_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - activity_audit_rate_limit_throttles_total (Counter): Requests delayed at the warning threshold
//
// Cache Metrics (pkg/cache):
//   - activity_audit_cache_hits_total{state} (Counter): Cache hits, fresh or stale (stale ones are revalidated)
//   - activity_audit_cache_misses_total (Counter): Cache misses
//   - activity_audit_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - activity_audit_cache_conditional_requests_total (Counter): Requests sent with If-None-Match
//   - activity_audit_cache_not_modified_total (Counter): 304 Not Modified responses
//   - activity_audit_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - activity_audit_github_requests_total{endpoint, status} (Counter): Requests by endpoint and status
//   - activity_audit_github_request_duration_seconds{endpoint} (Histogram): Request duration
//   - activity_audit_github_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - activity_audit_github_retries_total{error_class} (Counter): Retry attempts by error class
//   - activity_audit_github_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - activity_audit_github_retry_exhausted_total{error_class} (Counter): Requests that used every attempt
//
// Counter Metrics (pkg/counter):
//   - activity_audit_count_pages_fetched (Histogram): Pages fetched per as-of count
//   - activity_audit_page_size_violations_total (Counter): Pages whose size broke the page size assumption
//
// Reconciliation Metrics (pkg/reconcile):
//   - activity_audit_repos_total{kind, status} (Counter): Reconciled repositories by outcome (match, extra, missing, error)
//   - activity_audit_repo_duration_seconds{kind} (Histogram): Time spent counting one repository
//   - activity_audit_reconcile_duration_seconds{kind} (Histogram): Duration of a full run
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(activity_audit_cache_hits_total[5m])) /
//   (sum(rate(activity_audit_cache_hits_total[5m])) + sum(rate(activity_audit_cache_misses_total[5m])))
//
//   # Budget running low
//   activity_audit_github_requests_remaining < 100
//
//   # Mismatching repositories in the last day
//   increase(activity_audit_repos_total{status=~"extra|missing"}[1d])
//
//   # Pages per count (should stay near 3)
//   histogram_quantile(0.95, rate(activity_audit_count_pages_fetched_bucket[1h]))
