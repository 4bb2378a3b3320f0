package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gh-activity-audit/pkg/ratelimit"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_audit_github_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "activity_audit_github_retry_backoff_seconds",
		Help:    "Wait before a retry by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_audit_github_retry_exhausted_total",
		Help: "Requests that gave up retrying by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the retry budget of one error class.
type RetryConfig struct {
	// MaxAttempts counts the initial request.
	MaxAttempts int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the retry budget for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassRateLimit:
		// secondary rate limits ask for at least a minute between bursts
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassNetwork:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// Backoff returns the un-jittered wait after the given failed attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}

// ErrorClassOf returns the class carried by an *APIError. Other errors are
// network failures, except context errors which have no class.
func ErrorClassOf(err error) ErrorClass {
	var apiErr *APIError
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ""
	case errors.As(err, &apiErr):
		return apiErr.ErrorClass
	default:
		return ErrorClassNetwork
	}
}

// retryAfterOf returns the wait GitHub asked for, if any.
func retryAfterOf(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// RetryAfter reads GitHub's wait hint from a failed response: the Retry-After
// header (seconds or HTTP date) of a secondary limit, or the reset time of an
// exhausted primary budget.
func RetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if header.Get(ratelimit.HeaderRemaining) == "0" {
		if reset, err := strconv.ParseInt(header.Get(ratelimit.HeaderReset), 10, 64); err == nil {
			if d := time.Unix(reset, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

// Retrier re-runs a request while the class of its failure allows it.
type Retrier struct {
	policy func(ErrorClass) RetryConfig
	logger zerolog.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier with a per-class policy.
func NewRetrier(policy func(ErrorClass) RetryConfig, logger zerolog.Logger) *Retrier {
	if policy == nil {
		policy = RetryConfigForErrorClass
	}
	return &Retrier{policy: policy, logger: logger, wait: sleep}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds or returns a failure that must not be retried.
// The class of each failure selects the retry budget, so a server error
// followed by a secondary rate limit is judged by the rate limit budget.
// A Retry-After longer than the class allows ends the retries.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	var (
		class ErrorClass
		cfg   RetryConfig
	)

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		class = ErrorClassOf(err)
		if !class.Retryable() {
			return err
		}

		cfg = r.policy(class)
		if attempt >= cfg.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			r.logger.Warn().
				Str("error_class", string(class)).
				Int("max_attempts", cfg.MaxAttempts).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}

		delay := jitter(cfg.Backoff(attempt))
		if hint := retryAfterOf(err); hint > 0 {
			if hint > cfg.MaxBackoff {
				retryExhaustedTotal.WithLabelValues(string(class)).Inc()
				r.logger.Warn().
					Str("error_class", string(class)).
					Dur("retry_after", hint).
					Msg("GitHub asked to wait longer than the retry budget allows")
				return fmt.Errorf("%w: retry after %s: %w", ErrRetryExhausted, hint, err)
			}
			if hint > delay {
				delay = hint
			}
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())
		r.logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := r.wait(ctx, delay); err != nil {
			r.logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}
}
