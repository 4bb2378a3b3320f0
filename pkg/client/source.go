package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// RepoSource lists one collection of one repository page by page.
// It implements pagination.PageSource and pagination.URLFetcher.
type RepoSource struct {
	Client  *Client
	Owner   string
	Repo    string
	Kind    Kind
	PerPage int
}

// RepoSource returns a page source for owner/repo.
func (c *Client) RepoSource(owner, repo string, kind Kind, perPage int) *RepoSource {
	return &RepoSource{
		Client:  c,
		Owner:   owner,
		Repo:    repo,
		Kind:    kind,
		PerPage: perPage,
	}
}

// FetchPage implements pagination.PageSource.
func (s *RepoSource) FetchPage(ctx context.Context, n int) (pagination.Page, error) {
	resp, err := s.Client.Get(ctx, s.Kind.Endpoint(s.Owner, s.Repo, s.PerPage, n))
	if err != nil {
		return pagination.Page{}, err
	}
	return s.readPage(resp, n)
}

// FetchURL implements pagination.URLFetcher.
func (s *RepoSource) FetchURL(ctx context.Context, rawURL string) (pagination.Page, error) {
	n, err := pagination.PageNumber(rawURL)
	if err != nil {
		return pagination.Page{}, err
	}
	resp, err := s.Client.GetURL(ctx, rawURL)
	if err != nil {
		return pagination.Page{}, err
	}
	return s.readPage(resp, n)
}

func (s *RepoSource) readPage(resp *http.Response, n int) (pagination.Page, error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusConflict:
		// 409 is "Git Repository is empty"
		msg := errorMessage(resp)
		return pagination.Page{}, fmt.Errorf("%w: %s/%s %s: %s", pagination.ErrEmptyCollection, s.Owner, s.Repo, s.Kind, msg)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return pagination.Page{}, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode, resp.Header),
			Message:    errorMessage(resp),
		}
	}

	var items []item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return pagination.Page{}, fmt.Errorf("decode %s page %d of %s/%s: %w", s.Kind, n, s.Owner, s.Repo, err)
	}

	page := pagination.Page{Number: n, Dates: make([]time.Time, 0, len(items))}
	for i, it := range items {
		raw, ok := it.timestamp(s.Kind)
		if !ok {
			return pagination.Page{}, fmt.Errorf("%s page %d item %d: missing %s", s.Kind, n, i, s.Kind.DateField())
		}
		day, err := dates.ParseDay(raw)
		if err != nil {
			return pagination.Page{}, fmt.Errorf("%s page %d item %d: %w", s.Kind, n, i, err)
		}
		page.Dates = append(page.Dates, day)
	}

	links, err := pagination.ParseLinkHeader(resp.Header.Get("Link"))
	if err != nil {
		return pagination.Page{}, err
	}
	page.Links = links

	return page, nil
}

// errorMessage extracts GitHub's {"message": ...} or falls back to the status line.
func errorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return resp.Status
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return resp.Status
}
