package counter

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
)

// ExhaustiveCount fetches every page of src and counts the items dated on or
// before cutoff. It costs one request per page and serves as the reference
// the boundary scan is verified against.
func ExhaustiveCount(ctx context.Context, src pagination.PageSource, cutoff time.Time, fetcher *pagination.BatchFetcher) (int, error) {
	pages, err := fetcher.FetchAllPages(ctx, src)
	if errors.Is(err, pagination.ErrEmptyCollection) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	total := 0
	for _, page := range pages {
		total += CountOnOrBefore(page.Dates, cutoff)
	}
	return total, nil
}
