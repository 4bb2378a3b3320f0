// Package pagination resolves page metadata for paginated GitHub endpoints and
// provides page sources and a parallel batch fetcher.
//
// GitHub advertises pagination through the Link response header:
//
//	Link: <https://api.github.com/repositories/1/commits?per_page=100&page=2>; rel="next",
//	      <https://api.github.com/repositories/1/commits?per_page=100&page=7>; rel="last"
//
// ParseLinkHeader turns that header into Links, and Resolve turns Links into
// the total page count and the URL of the last page:
//
//	links, err := pagination.ParseLinkHeader(resp.Header.Get("Link"))
//	info, err := pagination.Resolve(links)
//	// info.TotalPages == 7, info.LastURL == "https://...&page=7"
//
// A response without a "last" relation is a single page, unless it still
// carries a "next" relation; that combination is reported as
// ErrMalformedPagination instead of being defaulted.
//
// The batch fetcher:
//   - Fetches first page to determine total pages
//   - Fetches the remaining pages with at most MaxConcurrency in flight (default 4)
//   - Fails the whole fetch when any page fails
package pagination
