package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_Decisions(t *testing.T) {
	soon := time.Now().Add(30 * time.Minute)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name      string
		remaining int
		resetAt   time.Time
		block     bool
		throttle  bool
		healthy   bool
	}{
		{name: "full budget", remaining: 5000, resetAt: soon, healthy: true},
		{name: "at healthy threshold", remaining: DefaultThresholdHealthy, resetAt: soon, healthy: true},
		{name: "below healthy", remaining: DefaultThresholdHealthy - 1, resetAt: soon},
		{name: "at warning threshold", remaining: DefaultThresholdWarning, resetAt: soon},
		{name: "below warning", remaining: DefaultThresholdWarning - 1, resetAt: soon, throttle: true},
		{name: "just above critical", remaining: DefaultThresholdCritical + 1, resetAt: soon, throttle: true},
		{name: "at critical threshold", remaining: DefaultThresholdCritical, resetAt: soon, throttle: true},
		{name: "below critical", remaining: DefaultThresholdCritical - 1, resetAt: soon, block: true},
		{name: "exhausted", remaining: 0, resetAt: soon, block: true},
		{name: "exhausted, window over", remaining: 0, resetAt: past, healthy: true},
		{name: "unknown reset", remaining: 3, block: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &RateLimitState{Remaining: tt.remaining, ResetAt: tt.resetAt}
			s.UpdateHealth()

			if got := s.NeedsCriticalBlock(); got != tt.block {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.block)
			}
			if got := s.NeedsThrottling(); got != tt.throttle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.throttle)
			}
			if s.IsHealthy != tt.healthy {
				t.Errorf("IsHealthy = %v, want %v", s.IsHealthy, tt.healthy)
			}
		})
	}
}

func TestRateLimitState_CustomThresholds(t *testing.T) {
	s := &RateLimitState{
		Remaining:  40,
		thresholds: Thresholds{Critical: 50, Warning: 200, Healthy: 1000},
	}

	if !s.NeedsCriticalBlock() {
		t.Error("40 remaining should be critical with a threshold of 50")
	}
	s.Remaining = 120
	if !s.NeedsThrottling() {
		t.Error("120 remaining should throttle with a warning threshold of 200")
	}
	s.UpdateHealth()
	if s.IsHealthy {
		t.Error("120 remaining should not be healthy below 1000")
	}
}

func TestRateLimitState_Timing(t *testing.T) {
	s := &RateLimitState{LastUpdate: time.Now().Add(-10 * time.Minute)}
	if !s.IsStale(5 * time.Minute) {
		t.Error("state written 10m ago should be stale after 5m")
	}
	if s.IsStale(time.Hour) {
		t.Error("state written 10m ago should not be stale after 1h")
	}

	if s.WindowExpired() {
		t.Error("zero reset time should not count as an expired window")
	}
	if got := s.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() with past reset = %v, want 0", got)
	}

	s.ResetAt = time.Now().Add(5 * time.Minute)
	if got := s.TimeUntilReset(); got < 4*time.Minute+58*time.Second || got > 5*time.Minute {
		t.Errorf("TimeUntilReset() = %v, want about 5m", got)
	}

	s.ResetAt = time.Now().Add(-time.Second)
	if !s.WindowExpired() {
		t.Error("past reset time should expire the window")
	}
}
