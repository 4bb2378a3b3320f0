package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Kind selects which repository collection is listed.
type Kind string

const (
	// KindCommits lists commits of the default branch, dated by committer date.
	KindCommits Kind = "commits"

	// KindIssues lists issues and pull requests in every state, dated by creation.
	KindIssues Kind = "issues"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindCommits, KindIssues}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCommits, KindIssues:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want commits or issues)", s)
	}
}

// Path returns the list endpoint path for a repository.
func (k Kind) Path(owner, repo string) string {
	return fmt.Sprintf("/repos/%s/%s/%s", url.PathEscape(owner), url.PathEscape(repo), string(k))
}

// Query returns the query string for one page.
func (k Kind) Query(perPage, page int) url.Values {
	q := url.Values{}
	if k == KindIssues {
		q.Set("filter", "all")
		q.Set("state", "all")
	}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	return q
}

// Endpoint returns path and query for one page.
func (k Kind) Endpoint(owner, repo string, perPage, page int) string {
	return k.Path(owner, repo) + "?" + k.Query(perPage, page).Encode()
}

// DateField names the JSON field the items are dated by.
func (k Kind) DateField() string {
	if k == KindCommits {
		return "commit.committer.date"
	}
	return "created_at"
}

// item is the subset of a commit or issue the audit reads.
type item struct {
	Commit *struct {
		Committer *struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
	CreatedAt string `json:"created_at"`
}

// timestamp returns the raw date string of an item for kind k.
func (it item) timestamp(k Kind) (string, bool) {
	if k == KindCommits {
		if it.Commit == nil || it.Commit.Committer == nil || it.Commit.Committer.Date == "" {
			return "", false
		}
		return it.Commit.Committer.Date, true
	}
	return it.CreatedAt, it.CreatedAt != ""
}
