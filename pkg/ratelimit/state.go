// Package ratelimit tracks the GitHub REST API request budget and gates requests.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers and shares the
// resulting state through Redis so that concurrent audits drain one budget together.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "gh:rate_limit:remaining"
	RedisKeyLimit          = "gh:rate_limit:limit"
	RedisKeyResetTimestamp = "gh:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "gh:rate_limit:last_update"
)

// Default thresholds for rate limit decisions.
const (
	// DefaultThresholdCritical blocks requests when fewer requests remain before reset.
	DefaultThresholdCritical = 10

	// DefaultThresholdWarning throttles requests when fewer requests remain before reset.
	DefaultThresholdWarning = 100

	// DefaultThresholdHealthy marks the budget as healthy at or above this value.
	DefaultThresholdHealthy = 500
)

// Thresholds are the remaining-request levels used to block or throttle.
type Thresholds struct {
	Critical int
	Warning  int
	Healthy  int
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: DefaultThresholdCritical,
		Warning:  DefaultThresholdWarning,
		Healthy:  DefaultThresholdHealthy,
	}
}

// RateLimitState represents the current GitHub core rate limit state.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// Limit is the window size (X-RateLimit-Limit), 0 when unknown.
	Limit int `json:"limit"`

	// ResetAt is when the window resets (X-RateLimit-Reset, epoch seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= the healthy threshold.
	IsHealthy bool `json:"is_healthy"`

	thresholds Thresholds
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// WindowExpired reports whether the reset time has passed, in which case the
// stored budget no longer applies.
func (s *RateLimitState) WindowExpired() bool {
	return !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests should be blocked until reset.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return !s.WindowExpired() && s.Remaining < s.limits().Critical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return !s.WindowExpired() && s.Remaining < s.limits().Warning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.WindowExpired() || s.Remaining >= s.limits().Healthy
}

func (s *RateLimitState) limits() Thresholds {
	if s.thresholds == (Thresholds{}) {
		return DefaultThresholds()
	}
	return s.thresholds
}
