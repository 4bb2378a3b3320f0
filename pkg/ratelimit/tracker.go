package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// GitHub rate limit response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderResource  = "X-RateLimit-Resource"
)

// ResourceCore is the rate limit bucket used by the REST list endpoints.
const ResourceCore = "core"

// DefaultThrottleDelay is the pause applied to each request in the warning range.
const DefaultThrottleDelay = time.Second

// Prometheus metrics for rate limit tracking.
var (
	requestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "activity_audit_github_requests_remaining",
		Help: "Requests remaining in the current GitHub rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_audit_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the GitHub budget is critical",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_audit_rate_limit_throttles_total",
		Help: "Total number of requests throttled because the GitHub budget is low",
	})
)

// Tracker monitors the GitHub rate limit and gates requests.
type Tracker struct {
	redis      *redis.Client
	logger     zerolog.Logger
	thresholds Thresholds
	throttle   time.Duration
}

// NewTracker creates a new rate limit tracker with default thresholds.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:      redisClient,
		logger:     logger,
		thresholds: DefaultThresholds(),
		throttle:   DefaultThrottleDelay,
	}
}

// WithThresholds sets the block/throttle thresholds.
// Zero fields keep their current value.
func (t *Tracker) WithThresholds(th Thresholds) *Tracker {
	if th.Critical > 0 {
		t.thresholds.Critical = th.Critical
	}
	if th.Warning > 0 {
		t.thresholds.Warning = th.Warning
	}
	if th.Healthy > 0 {
		t.thresholds.Healthy = th.Healthy
	}
	return t
}

// WithThrottleDelay sets the pause applied in the warning range.
func (t *Tracker) WithThrottleDelay(d time.Duration) *Tracker {
	t.throttle = d
	return t
}

// Thresholds returns the configured thresholds.
func (t *Tracker) Thresholds() Thresholds {
	return t.thresholds
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := t.redis.Get(ctx, RedisKeyLimit).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return &RateLimitState{
			Remaining:  t.thresholds.Healthy,
			ResetAt:    time.Now().Add(time.Hour),
			LastUpdate: time.Now(),
			IsHealthy:  true,
			thresholds: t.thresholds,
		}, nil
	}

	var lastUpdate time.Time
	if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &RateLimitState{
		Remaining:  remaining,
		Limit:      limit,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
		thresholds: t.thresholds,
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses GitHub rate limit headers and updates Redis state.
// Responses without rate limit headers, or for a bucket other than core, are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	if resource := headers.Get(HeaderResource); resource != "" && resource != ResourceCore {
		return nil
	}

	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := parseIntHeader(HeaderRemaining, remainStr)
	if err != nil {
		return err
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetEpoch, err := parseIntHeader(HeaderReset, resetStr)
	if err != nil {
		return err
	}

	limit := 0
	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		if limit, err = parseIntHeader(HeaderLimit, limitStr); err != nil {
			return err
		}
	}

	state := &RateLimitState{
		Remaining:  remain,
		Limit:      limit,
		ResetAt:    time.Unix(int64(resetEpoch), 0),
		LastUpdate: time.Now(),
		thresholds: t.thresholds,
	}
	state.UpdateHealth()

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, remain, 0)
	pipe.Set(ctx, RedisKeyLimit, limit, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	requestsRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("GitHub rate limit CRITICAL - requests will be blocked until reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("GitHub rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Int("limit", limit).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("GitHub rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current rate limit state.
// Returns false if the request should be blocked because the budget is critical.
// Returns true but may pause first when the budget is in the warning range.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("GitHub rate limit critical - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("delay", t.throttle).
			Msg("GitHub rate limit warning - throttling request")

		rateLimitThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttle):
		}
	}

	return true, nil
}

func parseIntHeader(name, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s header: %w", name, err)
	}
	return n, nil
}
