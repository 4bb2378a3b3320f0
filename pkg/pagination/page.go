package pagination

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyCollection is returned by a PageSource when the entity has no items
// or does not exist.
var ErrEmptyCollection = errors.New("empty collection")

// Page is one page of a reverse-chronological collection.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// Dates are the item dates in response order (newest first).
	Dates []time.Time

	// Links are the pagination link relations returned with the page.
	Links Links
}

// Len returns the number of items on the page.
func (p Page) Len() int {
	return len(p.Dates)
}

// Oldest returns the date of the last item on the page.
// ok is false for an empty page.
func (p Page) Oldest() (t time.Time, ok bool) {
	if len(p.Dates) == 0 {
		return time.Time{}, false
	}
	return p.Dates[len(p.Dates)-1], true
}

// PageSource fetches single pages of one entity's collection.
type PageSource interface {
	// FetchPage fetches page n (1-based).
	FetchPage(ctx context.Context, n int) (Page, error)
}

// URLFetcher is implemented by sources able to follow a pagination link directly.
type URLFetcher interface {
	FetchURL(ctx context.Context, rawURL string) (Page, error)
}
