package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

var (
	// ErrMalformedPagination indicates pagination metadata is missing or
	// unreadable although the result spans more than one page.
	ErrMalformedPagination = errors.New("malformed pagination metadata")
)

// PageParam is the query parameter carrying the page number.
const PageParam = "page"

// Info is the resolved pagination metadata of a paged response.
type Info struct {
	// TotalPages is the number of pages in the collection (at least 1).
	TotalPages int

	// LastURL is the direct link to the last page; empty for a single page.
	LastURL string
}

// SinglePage reports whether the whole collection fits in one page.
func (i Info) SinglePage() bool {
	return i.TotalPages <= 1
}

// Resolve determines the total page count and last page URL from link relations.
func Resolve(links Links) (Info, error) {
	last, ok := links[RelLast]
	if !ok {
		if _, hasNext := links[RelNext]; hasNext {
			return Info{}, fmt.Errorf("%w: next page advertised without a last page", ErrMalformedPagination)
		}
		return Info{TotalPages: 1}, nil
	}

	total, err := PageNumber(last)
	if err != nil {
		return Info{}, err
	}

	return Info{TotalPages: total, LastURL: last}, nil
}

// PageNumber extracts the page number query parameter from a page URL.
func PageNumber(rawURL string) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %q: %v", ErrMalformedPagination, rawURL, err)
	}

	value := u.Query().Get(PageParam)
	if value == "" {
		return 0, fmt.Errorf("%w: %q has no %s parameter", ErrMalformedPagination, rawURL, PageParam)
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: invalid page number %q", ErrMalformedPagination, value)
	}

	return n, nil
}
