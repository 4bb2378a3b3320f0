package pagination

import (
	"fmt"
	"strings"
)

// Link relation names used by GitHub.
const (
	RelNext  = "next"
	RelPrev  = "prev"
	RelFirst = "first"
	RelLast  = "last"
)

// Links maps a link relation name ("next", "last", ...) to its URL.
type Links map[string]string

// ParseLinkHeader parses an RFC 8288 Link header value.
// An empty header yields empty Links.
func ParseLinkHeader(header string) (Links, error) {
	links := Links{}
	if strings.TrimSpace(header) == "" {
		return links, nil
	}

	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			continue
		}

		parts := strings.Split(element, ";")
		target := strings.TrimSpace(parts[0])
		if len(target) < 2 || target[0] != '<' || target[len(target)-1] != '>' {
			return nil, fmt.Errorf("%w: link target %q", ErrMalformedPagination, target)
		}
		target = target[1 : len(target)-1]

		for _, param := range parts[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
				continue
			}
			// rel may hold several space-separated relation types
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"`)) {
				links[strings.ToLower(rel)] = target
			}
		}
	}

	return links, nil
}
