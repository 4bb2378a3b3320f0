// Package testutil provides testing utilities for the activity audit.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
)

// Collection is an in-memory paginated collection ordered newest first.
// It implements pagination.PageSource and pagination.URLFetcher.
type Collection struct {
	// Dates are the item dates, newest first.
	Dates []time.Time

	// PageSize is the number of items per page.
	PageSize int

	// Sizes optionally overrides the size of each page (index 0 = page 1),
	// for collections that break the fixed page size assumption.
	Sizes []int

	// BaseURL is used to build pagination links.
	BaseURL string

	// Errors makes FetchPage fail for specific page numbers.
	Errors map[int]error

	// OmitLast drops the "last" relation while keeping "next".
	OmitLast bool

	mu       sync.Mutex
	requests []int
	urlCalls int
}

// NewCollection creates a collection of the given dates split into pages.
func NewCollection(pageSize int, items ...time.Time) *Collection {
	return &Collection{
		Dates:    items,
		PageSize: pageSize,
		BaseURL:  "https://api.github.test/repos/octo/repo/commits",
	}
}

// Daily returns n dates, newest first, one per day ending at oldest.
func Daily(oldest time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = oldest.AddDate(0, 0, n-1-i)
	}
	return out
}

// Repeat returns n copies of the same date.
func Repeat(day time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = day
	}
	return out
}

// Concat joins date slices in order.
func Concat(parts ...[]time.Time) []time.Time {
	var out []time.Time
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// MustDay parses a YYYY-MM-DD day or panics.
func MustDay(s string) time.Time {
	d, err := dates.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// TotalPages returns the number of pages in the collection.
func (c *Collection) TotalPages() int {
	return len(c.bounds())
}

// bounds returns [start, end) item offsets per page.
func (c *Collection) bounds() [][2]int {
	var out [][2]int
	start := 0
	for i := 0; start < len(c.Dates); i++ {
		size := c.PageSize
		if i < len(c.Sizes) {
			size = c.Sizes[i]
		}
		end := start + size
		if end > len(c.Dates) {
			end = len(c.Dates)
		}
		out = append(out, [2]int{start, end})
		start = end
	}
	return out
}

// FetchPage implements pagination.PageSource.
func (c *Collection) FetchPage(ctx context.Context, n int) (pagination.Page, error) {
	if err := ctx.Err(); err != nil {
		return pagination.Page{}, err
	}

	c.mu.Lock()
	c.requests = append(c.requests, n)
	c.mu.Unlock()

	if err, ok := c.Errors[n]; ok {
		return pagination.Page{}, err
	}

	if len(c.Dates) == 0 {
		return pagination.Page{}, pagination.ErrEmptyCollection
	}

	bounds := c.bounds()
	page := pagination.Page{Number: n, Links: c.links(n, len(bounds))}
	if n >= 1 && n <= len(bounds) {
		b := bounds[n-1]
		page.Dates = append([]time.Time(nil), c.Dates[b[0]:b[1]]...)
	}
	return page, nil
}

// FetchURL implements pagination.URLFetcher.
func (c *Collection) FetchURL(ctx context.Context, rawURL string) (pagination.Page, error) {
	c.mu.Lock()
	c.urlCalls++
	c.mu.Unlock()

	n, err := pagination.PageNumber(rawURL)
	if err != nil {
		return pagination.Page{}, err
	}
	return c.FetchPage(ctx, n)
}

func (c *Collection) links(n, total int) pagination.Links {
	links := pagination.Links{}
	if total <= 1 {
		return links
	}
	if n < total {
		links[pagination.RelNext] = c.pageURL(n + 1)
		if !c.OmitLast {
			links[pagination.RelLast] = c.pageURL(total)
		}
	}
	if n > 1 {
		links[pagination.RelPrev] = c.pageURL(n - 1)
		links[pagination.RelFirst] = c.pageURL(1)
	}
	return links
}

func (c *Collection) pageURL(n int) string {
	return fmt.Sprintf("%s?per_page=%d&page=%d", c.BaseURL, c.PageSize, n)
}

// Requests returns the page numbers fetched so far, in order.
func (c *Collection) Requests() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.requests...)
}

// URLCalls returns how many times FetchURL was used.
func (c *Collection) URLCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urlCalls
}

// CountOnOrBefore is the brute-force reference count.
func (c *Collection) CountOnOrBefore(cutoff time.Time) int {
	n := 0
	for _, d := range c.Dates {
		if dates.OnOrBefore(d, cutoff) {
			n++
		}
	}
	return n
}
