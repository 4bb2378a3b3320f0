package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps revalidatable pages for a day.
const DefaultRetention = 24 * time.Hour

var (
	// ErrCacheMiss indicates no usable entry is stored under the key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores GitHub responses in Redis.
//
// Freshness and retention are separate: an entry carrying an ETag or
// Last-Modified stays in Redis for the retention window even after max-age
// ran out, since a conditional request against it is free.
type Manager struct {
	redis     *redis.Client
	retention time.Duration
}

// NewManager creates a cache manager. A retention <= 0 selects DefaultRetention.
func NewManager(redisClient *redis.Client, retention time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		redis:     redisClient,
		retention: retention,
	}
}

// Retention returns the revalidation window.
func (m *Manager) Retention() time.Duration {
	return m.retention
}

// Get returns the entry stored under key. Stale entries are returned when they
// can be revalidated; callers must then send a conditional request.
// Returns ErrCacheMiss when nothing usable is stored.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	switch {
	case entry.Fresh():
		CacheHits.WithLabelValues("fresh").Inc()
	case entry.Revalidatable():
		CacheHits.WithLabelValues("stale").Inc()
	default:
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Set stores entry for its retention. Entries with nothing left to keep
// (no-store, or stale without a validator) are skipped.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.Retention(m.retention)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.WithLabelValues("redis").Add(float64(len(data)))
	return nil
}

// Revalidated records a 304 for entry: freshness follows the headers of the
// 304 and the retention window starts over.
func (m *Manager) Revalidated(ctx context.Context, key CacheKey, entry *CacheEntry, header http.Header) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	entry.ValidatedAt = time.Now()
	if header != nil && (header.Get("Cache-Control") != "" || header.Get("Expires") != "") {
		entry.Expires = parseExpiry(header)
	}
	NotModifiedResponses.Inc()
	return m.Set(ctx, key, entry)
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
