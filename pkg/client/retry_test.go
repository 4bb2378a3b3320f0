package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gh-activity-audit/pkg/ratelimit"
)

// fakeWaits records every wait instead of sleeping.
type fakeWaits struct {
	waits []time.Duration
	err   error
}

func (f *fakeWaits) wait(_ context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	return f.err
}

func newFakeRetrier(policy func(ErrorClass) RetryConfig) (*Retrier, *fakeWaits) {
	fw := &fakeWaits{}
	r := NewRetrier(policy, zerolog.Nop())
	r.wait = fw.wait
	return r, fw
}

func failWith(class ErrorClass) error {
	return &APIError{StatusCode: 500, ErrorClass: class, Message: "boom"}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	tests := []struct {
		errorClass ErrorClass
		initial    time.Duration
		max        time.Duration
	}{
		{ErrorClassServer, 1 * time.Second, 10 * time.Second},
		{ErrorClassRateLimit, 5 * time.Second, 60 * time.Second},
		{ErrorClassNetwork, 2 * time.Second, 30 * time.Second},
		{"", 1 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		cfg := RetryConfigForErrorClass(tt.errorClass)
		if cfg.InitialBackoff != tt.initial || cfg.MaxBackoff != tt.max || cfg.MaxAttempts != 3 {
			t.Errorf("%q: got %+v, want initial %v, max %v, 3 attempts", tt.errorClass, cfg, tt.initial, tt.max)
		}
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := cfg.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestJitter(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := jitter(base)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jitter(1s) = %v, outside ±20%%", d)
		}
	}
}

func TestErrorClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"api error", failWith(ErrorClassServer), ErrorClassServer},
		{"wrapped api error", fmt.Errorf("page 3: %w", failWith(ErrorClassRateLimit)), ErrorClassRateLimit},
		{"plain error", errors.New("connection reset"), ErrorClassNetwork},
		{"cancelled", context.Canceled, ""},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ""},
	}

	for _, tt := range tests {
		if got := ErrorClassOf(tt.err); got != tt.want {
			t.Errorf("%s: ErrorClassOf = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"none", http.Header{}, 0},
		{"nil header", nil, 0},
		{"seconds", headerOf("Retry-After", "42"), 42 * time.Second},
		{"http date", headerOf("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat)), 90 * time.Second},
		{"date in the past", headerOf("Retry-After", now.Add(-time.Minute).Format(http.TimeFormat)), 0},
		{"garbage", headerOf("Retry-After", "soon"), 0},
		{
			name: "exhausted budget waits for reset",
			header: http.Header{
				ratelimit.HeaderRemaining: []string{"0"},
				ratelimit.HeaderReset:     []string{strconv.FormatInt(now.Add(20*time.Minute).Unix(), 10)},
			},
			want: 20 * time.Minute,
		},
		{
			name: "budget left ignores reset",
			header: http.Header{
				ratelimit.HeaderRemaining: []string{"17"},
				ratelimit.HeaderReset:     []string{strconv.FormatInt(now.Add(20*time.Minute).Unix(), 10)},
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		if got := RetryAfter(tt.header, now); got != tt.want {
			t.Errorf("%s: RetryAfter = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRetrier_SuccessFirstAttempt(t *testing.T) {
	r, fw := newFakeRetrier(nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if calls != 1 || len(fw.waits) != 0 {
		t.Errorf("calls = %d, waits = %v; want 1 call, no waits", calls, fw.waits)
	}
}

func TestRetrier_SuccessAfterServerErrors(t *testing.T) {
	r, fw := newFakeRetrier(nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return failWith(ErrorClassServer)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(fw.waits) != 2 {
		t.Fatalf("waits = %v, want 2", fw.waits)
	}
	// 1s then 2s, each ±20%
	if fw.waits[0] < 800*time.Millisecond || fw.waits[0] > 1200*time.Millisecond {
		t.Errorf("first wait = %v, want about 1s", fw.waits[0])
	}
	if fw.waits[1] < 1600*time.Millisecond || fw.waits[1] > 2400*time.Millisecond {
		t.Errorf("second wait = %v, want about 2s", fw.waits[1])
	}
}

func TestRetrier_ClientErrorNotRetried(t *testing.T) {
	r, fw := newFakeRetrier(nil)

	want := &APIError{StatusCode: 422, ErrorClass: ErrorClassClient, Message: "Validation Failed"}
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return want
	})
	if err != want {
		t.Errorf("Do() = %v, want the client error unchanged", err)
	}
	if calls != 1 || len(fw.waits) != 0 {
		t.Errorf("calls = %d, waits = %v", calls, fw.waits)
	}
}

func TestRetrier_Exhausted(t *testing.T) {
	r, fw := newFakeRetrier(nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return failWith(ErrorClassServer)
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Do() = %v, want ErrRetryExhausted", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassServer {
		t.Errorf("last error not wrapped: %v", err)
	}
	if calls != 3 || len(fw.waits) != 2 {
		t.Errorf("calls = %d, waits = %d; want 3 and 2", calls, len(fw.waits))
	}
}

func TestRetrier_ClassChangesBetweenAttempts(t *testing.T) {
	policy := func(c ErrorClass) RetryConfig {
		cfg := RetryConfigForErrorClass(c)
		if c == ErrorClassNetwork {
			cfg.MaxAttempts = 2
		}
		return cfg
	}
	r, _ := newFakeRetrier(policy)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return failWith(ErrorClassServer)
		}
		return errors.New("connection reset by peer")
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Do() = %v, want ErrRetryExhausted", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (network budget allows two attempts)", calls)
	}
}

func TestRetrier_HonorsRetryAfter(t *testing.T) {
	r, fw := newFakeRetrier(nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &APIError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: 45 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if len(fw.waits) != 1 || fw.waits[0] != 45*time.Second {
		t.Errorf("waits = %v, want [45s]", fw.waits)
	}
}

func TestRetrier_RetryAfterBeyondBudget(t *testing.T) {
	r, fw := newFakeRetrier(nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return &APIError{StatusCode: 403, ErrorClass: ErrorClassRateLimit, RetryAfter: 30 * time.Minute}
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Do() = %v, want ErrRetryExhausted", err)
	}
	if calls != 1 || len(fw.waits) != 0 {
		t.Errorf("calls = %d, waits = %v; want a single attempt", calls, fw.waits)
	}
}

func TestRetrier_ContextCancelledDuringBackoff(t *testing.T) {
	r, fw := newFakeRetrier(nil)
	fw.err = context.Canceled

	err := r.Do(context.Background(), func() error {
		return failWith(ErrorClassServer)
	})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Do() = %v, want ErrContextCancelled", err)
	}
}

func TestRetrier_ContextErrorNotRetried(t *testing.T) {
	r, fw := newFakeRetrier(nil)

	err := r.Do(context.Background(), func() error {
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want DeadlineExceeded", err)
	}
	if len(fw.waits) != 0 {
		t.Errorf("waits = %v, want none", fw.waits)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("sleep() = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly on cancellation")
	}
}
