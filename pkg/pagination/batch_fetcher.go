package pagination

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency bounds the page requests in flight
	MaxConcurrency int

	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns a configuration that stays well inside GitHub's
// 5000 requests/hour budget for a single exhaustive scan.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// BatchFetcher fetches every page of a collection in parallel.
// The counter only needs a handful of pages; full scans back verification.
type BatchFetcher struct {
	config Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &BatchFetcher{config: config}
}

// FetchAllPages fetches page 1 to learn the page count, then pages 2..N with
// at most MaxConcurrency requests in flight. Returns pages keyed by number.
// Any failed page fails the whole fetch; no partial result is returned.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, src PageSource) (map[int]Page, error) {
	start := time.Now()

	first, err := src.FetchPage(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch page 1: %w", err)
	}

	info, err := Resolve(first.Links)
	if err != nil {
		return nil, fmt.Errorf("resolve pagination: %w", err)
	}
	total := info.TotalPages

	pages := make([]Page, total)
	pages[0] = first

	if total > 1 {
		log.Debug().
			Int("total_pages", total).
			Int("concurrency", bf.config.MaxConcurrency).
			Msg("Fetching all pages")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(bf.config.MaxConcurrency)

		var fetched atomic.Int32
		fetched.Store(1)
		for n := 2; n <= total; n++ {
			g.Go(func() error {
				pageCtx, cancel := context.WithTimeout(gctx, bf.config.Timeout)
				defer cancel()

				page, err := src.FetchPage(pageCtx, n)
				if err != nil {
					return fmt.Errorf("fetch page %d: %w", n, err)
				}
				pages[n-1] = page

				if done := fetched.Add(1); done%50 == 0 {
					log.Debug().
						Int32("fetched", done).
						Int("total", total).
						Msg("Fetch progress")
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	result := make(map[int]Page, total)
	for i, p := range pages {
		result[i+1] = p
	}

	log.Debug().
		Int("pages", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return result, nil
}
