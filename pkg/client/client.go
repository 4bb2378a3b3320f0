// Package client provides the GitHub REST HTTP client with rate limiting,
// caching, and error handling.
package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/gh-activity-audit/pkg/cache"
	"github.com/Sternrassler/gh-activity-audit/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

// MediaType is the Accept header sent with every request.
const MediaType = "application/vnd.github.v3+json"

// Prometheus metrics for GitHub client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_audit_github_requests_total",
		Help: "Total GitHub requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "activity_audit_github_request_duration_seconds",
		Help:    "GitHub request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_audit_github_errors_total",
		Help: "Total GitHub errors by class",
	}, []string{"class"})
)

// Client is the GitHub API client.
type Client struct {
	httpClient  *http.Client
	redis       *redis.Client
	rateLimiter *ratelimit.Tracker
	retrier     *Retrier
	pacer       *rate.Limiter
	cache       *cache.Manager
	principal   string
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis client for caching and rate limit state
	Redis *redis.Client

	// BaseURL of the REST API (default https://api.github.com)
	BaseURL string

	// User-Agent header (REQUIRED by GitHub)
	UserAgent string

	// Token is sent as a bearer token when set
	Token string

	// Pacing: requests per second and burst, 0 disables pacing
	RateLimit float64
	Burst     int

	// RateLimitReserve blocks requests when fewer remain before reset
	RateLimitReserve int

	// CacheTTL is how long pages with an ETag stay cached for revalidation
	CacheTTL time.Duration

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		Redis:            redis,
		BaseURL:          DefaultBaseURL,
		UserAgent:        userAgent,
		RateLimit:        10,
		Burst:            5,
		RateLimitReserve: ratelimit.DefaultThresholdCritical,
		CacheTTL:         24 * time.Hour,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		InitialBackoff:   1 * time.Second,
	}
}

// New creates a new GitHub client.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.RateLimitReserve < 1 {
		return nil, fmt.Errorf("rate_limit_reserve must be >= 1 (got %d)", cfg.RateLimitReserve)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "github-client").Logger()

	tracker := ratelimit.NewTracker(cfg.Redis, logger).
		WithThresholds(ratelimit.Thresholds{Critical: cfg.RateLimitReserve})

	var pacer *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redis:       cfg.Redis,
		rateLimiter: tracker,
		pacer:       pacer,
		cache:       cache.NewManager(cfg.Redis, cfg.CacheTTL),
		principal:   principalOf(cfg.Token),
		config:      cfg,
		logger:      logger,
	}
	c.retrier = NewRetrier(c.retryConfig, logger)
	return c, nil
}

// Do performs an HTTP request with pacing, rate limiting, caching, and retries.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := endpointLabel(req.URL.Path)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: client-side pacing
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	// Step 2: shared GitHub budget
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", req.URL.Path).
			Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	// Step 3: cache lookup
	cacheKey := cache.CacheKey{
		Endpoint:    req.URL.Path,
		QueryParams: req.URL.Query(),
		Principal:   c.principal,
	}

	cachedEntry, err := c.cache.Get(ctx, cacheKey)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("endpoint", req.URL.Path).Msg("Cache get error")
	}

	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", req.URL.Path).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 4: headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", MediaType)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	c.logger.Debug().
		Str("endpoint", req.URL.Path).
		Str("query", req.URL.RawQuery).
		Msg("Executing GitHub request")

	// Step 5: execute with retry
	var resp *http.Response

	retryErr := c.retrier.Do(ctx, func() error {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)

		if reqErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(reqErr).Str("endpoint", req.URL.Path).Msg("HTTP request failed")
			errClass := c.classifyError(nil, reqErr)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &APIError{ErrorClass: errClass, Message: "request failed", Err: reqErr}
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		if resp.StatusCode == http.StatusNotModified {
			return nil
		}

		if resp.StatusCode >= 400 {
			errClass := c.classifyError(resp, nil)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", req.URL.Path).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("GitHub request error")

			if errClass.Retryable() {
				apiErr := &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Message:    resp.Status,
					RetryAfter: RetryAfter(resp.Header, time.Now()),
				}
				resp.Body.Close()
				resp = nil
				return apiErr
			}

			// client errors go back to the caller with their body
			return nil
		}

		requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil
	})

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	// Step 6: 304 is answered from cache
	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		if cachedEntry == nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassClient,
				Message:    "not modified without a cached entry",
			}
		}

		c.logger.Debug().Str("endpoint", req.URL.Path).Msg("304 Not Modified - using cache")
		requestsTotal.WithLabelValues(endpoint, "304").Inc()

		if err := c.cache.Revalidated(ctx, cacheKey, cachedEntry, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh revalidated cache entry")
		}

		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 7: cache successful responses
	if resp.StatusCode == http.StatusOK {
		c.store(ctx, cacheKey, resp)
	}

	return resp, nil
}

func (c *Client) store(ctx context.Context, key cache.CacheKey, resp *http.Response) {
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		return
	}
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().
		Str("endpoint", key.Endpoint).
		Dur("retention", entry.Retention(c.cache.Retention())).
		Msg("Cached response")
}

// retryConfig applies the configured attempts and initial backoff to the per-class defaults.
func (c *Client) retryConfig(class ErrorClass) RetryConfig {
	cfg := RetryConfigForErrorClass(class)
	if c.config.MaxRetries > 0 {
		cfg.MaxAttempts = c.config.MaxRetries
	}
	if c.config.InitialBackoff > 0 {
		cfg.InitialBackoff = c.config.InitialBackoff
		if cfg.MaxBackoff < cfg.InitialBackoff {
			cfg.MaxBackoff = cfg.InitialBackoff
		}
	}
	return cfg
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	var class ErrorClass
	if err != nil {
		class = ErrorClassNetwork
	} else {
		class = classifyStatus(resp.StatusCode, resp.Header)
	}
	if class != "" {
		c.logger.Debug().Str("class", string(class)).Msg("Error classified")
	}
	return class
}

// classifyStatus maps a GitHub status code to an error class.
// GitHub reports an exhausted primary budget as 403 with X-RateLimit-Remaining: 0
// and secondary limits as 403 or 429 with Retry-After.
func classifyStatus(status int, header http.Header) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusForbidden && header != nil &&
		(header.Get(ratelimit.HeaderRemaining) == "0" || header.Get("Retry-After") != ""):
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// endpointLabel collapses owner and repo out of a path to keep metric cardinality bounded.
func endpointLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "repos" {
		parts[1], parts[2] = ":owner", ":repo"
	}
	return "/" + strings.Join(parts, "/")
}

func principalOf(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// Get performs a GET request to an API path relative to the base URL.
func (c *Client) Get(ctx context.Context, endpoint string) (*http.Response, error) {
	return c.GetURL(ctx, c.config.BaseURL+endpoint)
}

// GetURL performs a GET request to an absolute URL, such as a pagination link.
func (c *Client) GetURL(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager (for testing).
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
