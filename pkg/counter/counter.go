// Package counter computes how many items of a reverse-chronological,
// paginated collection existed as of a cutoff day, without scanning every page.
//
// The counter relies on the collection being ordered newest first across all
// pages and on every page except the last holding exactly PageSize items.
// It fetches page 1, the last page, and then walks forward from page 1 until
// it reaches the first page whose oldest item is on or before the cutoff.
// Every page between that boundary page and the last page is counted as a
// full page without being fetched.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is the largest page size GitHub list endpoints accept.
const DefaultPageSize = 100

// ErrInconsistentPages indicates the collection changed shape during a scan.
var ErrInconsistentPages = errors.New("inconsistent pages")

// Prometheus metrics for count operations.
var (
	pagesFetched = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "activity_audit_count_pages_fetched",
		Help:    "Pages fetched per as-of count",
		Buckets: []float64{1, 2, 3, 4, 6, 10, 20, 50},
	})

	pageSizeViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_audit_page_size_violations_total",
		Help: "Fetched pages whose size differs from the configured page size",
	})
)

// Result is the outcome of one as-of count.
type Result struct {
	// Count is the number of items dated on or before the cutoff.
	Count int

	// TotalPages is the resolved page count (0 for an empty collection).
	TotalPages int

	// BoundaryPage is the page where qualifying items start (0 when no scan happened).
	BoundaryPage int

	// PagesFetched is the number of page requests made.
	PagesFetched int

	// Approximate is set when a fetched page broke the fixed page size
	// assumption, so the unfetched middle pages may not be full.
	Approximate bool
}

// Counter counts qualifying items of a paginated collection.
type Counter struct {
	pageSize int
	logger   zerolog.Logger
}

// New creates a counter for endpoints serving pageSize items per page.
func New(pageSize int) *Counter {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Counter{
		pageSize: pageSize,
		logger:   log.With().Str("component", "counter").Logger(),
	}
}

// WithLogger returns a copy of the counter logging to logger.
func (c *Counter) WithLogger(logger zerolog.Logger) *Counter {
	cp := *c
	cp.logger = logger
	return &cp
}

// PageSize returns the configured page size.
func (c *Counter) PageSize() int {
	return c.pageSize
}

// CountAsOf returns the number of items in src dated on or before cutoff.
// Fetches are strictly sequential; any fetch error aborts the count.
func (c *Counter) CountAsOf(ctx context.Context, src pagination.PageSource, cutoff time.Time) (Result, error) {
	s := &scan{counter: c, src: src, cutoff: cutoff}
	res, err := s.run(ctx)
	if err != nil {
		return Result{}, err
	}
	pagesFetched.Observe(float64(res.PagesFetched))
	return res, nil
}

// scan holds the state of one count.
type scan struct {
	counter *Counter
	src     pagination.PageSource
	cutoff  time.Time
	res     Result
}

func (s *scan) run(ctx context.Context) (Result, error) {
	first, err := s.fetch(ctx, 1)
	if errors.Is(err, pagination.ErrEmptyCollection) {
		s.counter.logger.Debug().Msg("Empty collection")
		return s.res, nil
	}
	if err != nil {
		return Result{}, err
	}
	if first.Len() == 0 {
		return s.res, nil
	}

	firstQualifying := s.qualifying(first)

	info, err := pagination.Resolve(first.Links)
	if err != nil {
		return Result{}, fmt.Errorf("resolve pagination: %w", err)
	}
	s.res.TotalPages = info.TotalPages

	if info.SinglePage() {
		s.res.Count = firstQualifying
		return s.res, nil
	}
	s.checkSize(first, false)

	last, err := s.fetchLast(ctx, info)
	if err != nil {
		return Result{}, err
	}
	lastQualifying := s.qualifying(last)
	s.checkSize(last, true)

	if lastQualifying == 0 {
		// even the oldest items are newer than the cutoff
		return s.res, nil
	}

	boundary, boundaryQualifying := first, firstQualifying
	for !s.oldestQualifies(boundary) {
		next := boundary.Number + 1
		if next >= info.TotalPages {
			// only the last page holds qualifying items
			s.res.BoundaryPage = info.TotalPages
			s.res.Count = lastQualifying
			return s.res, nil
		}

		boundary, err = s.fetch(ctx, next)
		if err != nil {
			return Result{}, err
		}
		if boundary.Len() == 0 {
			return Result{}, fmt.Errorf("%w: page %d of %d is empty", ErrInconsistentPages, next, info.TotalPages)
		}
		boundaryQualifying = s.qualifying(boundary)
		s.checkSize(boundary, false)
	}

	pageno := boundary.Number
	s.res.BoundaryPage = pageno
	s.res.Count = (info.TotalPages-pageno-1)*s.counter.pageSize + boundaryQualifying + lastQualifying

	s.counter.logger.Debug().
		Int("total_pages", info.TotalPages).
		Int("boundary_page", pageno).
		Int("boundary_qualifying", boundaryQualifying).
		Int("last_qualifying", lastQualifying).
		Int("count", s.res.Count).
		Msg("Boundary found")

	return s.res, nil
}

func (s *scan) fetch(ctx context.Context, n int) (pagination.Page, error) {
	s.res.PagesFetched++
	page, err := s.src.FetchPage(ctx, n)
	if err != nil {
		return pagination.Page{}, fmt.Errorf("fetch page %d: %w", n, err)
	}
	page.Number = n
	return page, nil
}

// fetchLast follows the last page link when the source can, otherwise
// requests the last page by number.
func (s *scan) fetchLast(ctx context.Context, info pagination.Info) (pagination.Page, error) {
	uf, ok := s.src.(pagination.URLFetcher)
	if !ok || info.LastURL == "" {
		return s.fetch(ctx, info.TotalPages)
	}

	s.res.PagesFetched++
	page, err := uf.FetchURL(ctx, info.LastURL)
	if err != nil {
		return pagination.Page{}, fmt.Errorf("fetch last page %d: %w", info.TotalPages, err)
	}
	page.Number = info.TotalPages
	return page, nil
}

func (s *scan) qualifying(page pagination.Page) int {
	return CountOnOrBefore(page.Dates, s.cutoff)
}

func (s *scan) oldestQualifies(page pagination.Page) bool {
	oldest, ok := page.Oldest()
	return ok && dates.OnOrBefore(oldest, s.cutoff)
}

// checkSize flags pages that break the fixed page size assumption.
func (s *scan) checkSize(page pagination.Page, isLast bool) {
	size := s.counter.pageSize
	if page.Len() == size || (isLast && page.Len() < size) {
		return
	}

	s.res.Approximate = true
	pageSizeViolations.Inc()
	s.counter.logger.Warn().
		Int("page", page.Number).
		Int("items", page.Len()).
		Int("page_size", size).
		Bool("last_page", isLast).
		Msg("Page size differs from configured size, count is approximate")
}

// CountOnOrBefore counts the dates on or before cutoff.
func CountOnOrBefore(ds []time.Time, cutoff time.Time) int {
	n := 0
	for _, d := range ds {
		if dates.OnOrBefore(d, cutoff) {
			n++
		}
	}
	return n
}
