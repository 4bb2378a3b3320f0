package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestUpdateFromHeaders_InvalidHeaders(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger)

	tests := []struct {
		name        string
		headers     map[string]string
		shouldError bool
	}{
		{
			name:        "no rate limit headers",
			headers:     map[string]string{},
			shouldError: false,
		},
		{
			name:        "missing remaining header",
			headers:     map[string]string{HeaderReset: "1700000000"},
			shouldError: false,
		},
		{
			name:        "invalid remaining header",
			headers:     map[string]string{HeaderRemaining: "invalid", HeaderReset: "1700000000"},
			shouldError: true,
		},
		{
			name:        "invalid reset header",
			headers:     map[string]string{HeaderRemaining: "4999", HeaderReset: "soon"},
			shouldError: true,
		},
		{
			name:        "missing reset header",
			headers:     map[string]string{HeaderRemaining: "4999"},
			shouldError: true,
		},
		{
			name:        "invalid limit header",
			headers:     map[string]string{HeaderRemaining: "4999", HeaderReset: "1700000000", HeaderLimit: "x"},
			shouldError: true,
		},
		{
			name: "search bucket is ignored",
			headers: map[string]string{
				HeaderRemaining: "2",
				HeaderReset:     "1700000000",
				HeaderResource:  "search",
			},
			shouldError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}

			err := tracker.UpdateFromHeaders(context.Background(), headers)

			if tt.shouldError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestWithThresholds(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop()).WithThresholds(Thresholds{Critical: 25})

	got := tracker.Thresholds()
	if got.Critical != 25 {
		t.Errorf("Critical = %d, want 25", got.Critical)
	}
	if got.Warning != DefaultThresholdWarning {
		t.Errorf("Warning = %d, want default %d", got.Warning, DefaultThresholdWarning)
	}
	if got.Healthy != DefaultThresholdHealthy {
		t.Errorf("Healthy = %d, want default %d", got.Healthy, DefaultThresholdHealthy)
	}
}

func TestParseIntHeader(t *testing.T) {
	if n, err := parseIntHeader(HeaderRemaining, "4987"); err != nil || n != 4987 {
		t.Errorf("parseIntHeader() = %d, %v; want 4987, nil", n, err)
	}
	if _, err := parseIntHeader(HeaderRemaining, "12a"); err == nil {
		t.Error("expected error for non-numeric header")
	}
}
