package testutil

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
)

// GitHub defaults mirrored by the mock.
const (
	DefaultPerPage = 30
	MaxPerPage     = 100
	DefaultBudget  = 5000
)

// MockRepo is one repository collection served by MockGitHub.
type MockRepo struct {
	// Dates are the item dates, newest first.
	Dates []time.Time

	// Sizes optionally overrides the size of each page.
	Sizes []int

	// Status, when set, is returned instead of the listing (404, 409, ...).
	Status  int
	Message string

	// FailTimes makes the first n requests answer 502.
	FailTimes int
}

// MockGitHub is an httptest server speaking the subset of the GitHub REST API
// used by the audit: paginated commit and issue listings with Link headers,
// rate limit headers, and ETag revalidation.
type MockGitHub struct {
	Server *httptest.Server

	mu        sync.Mutex
	repos     map[string]*MockRepo
	requests  map[string]int
	pages     []int
	remaining int
	limit     int
	resetAt   time.Time
	userAgent string
	auth      string
}

// NewMockGitHub starts a mock GitHub API server.
func NewMockGitHub() *MockGitHub {
	m := &MockGitHub{
		repos:     make(map[string]*MockRepo),
		requests:  make(map[string]int),
		remaining: DefaultBudget,
		limit:     DefaultBudget,
		resetAt:   time.Now().Add(time.Hour),
	}

	r := mux.NewRouter()
	r.HandleFunc("/repos/{owner}/{repo}/{kind:commits|issues}", m.handleList).Methods(http.MethodGet)
	r.HandleFunc("/rate_limit", m.handleRateLimit).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not Found")
	})

	m.Server = httptest.NewServer(r)
	return m
}

// URL returns the base URL of the mock API.
func (m *MockGitHub) URL() string {
	return m.Server.URL
}

// Close shuts down the server.
func (m *MockGitHub) Close() {
	m.Server.Close()
}

// AddRepo registers a collection for owner/repo; kind is "commits" or "issues".
func (m *MockGitHub) AddRepo(owner, repo, kind string, r MockRepo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc := r
	m.repos[repoKey(owner, repo, kind)] = &rc
}

// SetRateLimit sets the budget reported in rate limit headers.
func (m *MockGitHub) SetRateLimit(remaining int, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.resetAt = resetAt
}

// Remaining returns the current budget.
func (m *MockGitHub) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// Requests returns how many requests hit path (e.g. "/repos/octo/hello/commits").
func (m *MockGitHub) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[strings.ToLower(path)]
}

// TotalRequests returns the number of requests served.
func (m *MockGitHub) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// Pages returns the page numbers requested so far, in order.
func (m *MockGitHub) Pages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pages...)
}

// LastUserAgent returns the User-Agent of the latest request.
func (m *MockGitHub) LastUserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAgent
}

// LastAuthorization returns the Authorization header of the latest request.
func (m *MockGitHub) LastAuthorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auth
}

func (m *MockGitHub) handleList(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, repo, kind := vars["owner"], vars["repo"], vars["kind"]

	q := r.URL.Query()
	perPage := intParam(q, "per_page", DefaultPerPage)
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	page := intParam(q, "page", 1)

	m.mu.Lock()
	m.requests[strings.ToLower(r.URL.Path)]++
	m.pages = append(m.pages, page)
	m.userAgent = r.Header.Get("User-Agent")
	m.auth = r.Header.Get("Authorization")
	rc, ok := m.repos[repoKey(owner, repo, kind)]
	var fail bool
	if ok && rc.FailTimes > 0 {
		rc.FailTimes--
		fail = true
	}
	exhausted := m.remaining <= 0
	m.mu.Unlock()

	if exhausted {
		m.writeRateHeaders(w)
		writeMessage(w, http.StatusForbidden, "API rate limit exceeded")
		return
	}

	switch {
	case !ok:
		m.spend(w)
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	case fail:
		m.spend(w)
		writeMessage(w, http.StatusBadGateway, "Server Error")
		return
	case rc.Status != 0:
		m.spend(w)
		writeMessage(w, rc.Status, rc.Message)
		return
	}

	coll := &Collection{Dates: rc.Dates, PageSize: perPage, Sizes: rc.Sizes}
	var items []map[string]any
	var links pagination.Links
	if len(rc.Dates) > 0 {
		p, err := coll.FetchPage(r.Context(), page)
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, err.Error())
			return
		}
		items = renderItems(kind, p.Dates)
		links = p.Links
	}
	if items == nil {
		items = []map[string]any{}
	}

	body, err := json.Marshal(items)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	etag := fmt.Sprintf(`W/"%x"`, sha256.Sum256(body))

	if link := linkHeader(m.Server.URL, r.URL, links); link != "" {
		w.Header().Set("Link", link)
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=60, s-maxage=60")

	if r.Header.Get("If-None-Match") == etag {
		// revalidation is free on GitHub
		m.writeRateHeaders(w)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	m.spend(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (m *MockGitHub) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	m.writeRateHeaders(w)
	m.mu.Lock()
	payload := map[string]any{
		"resources": map[string]any{
			"core": map[string]any{
				"limit":     m.limit,
				"remaining": m.remaining,
				"reset":     m.resetAt.Unix(),
			},
		},
	}
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// spend charges one request against the budget and writes the rate limit headers.
func (m *MockGitHub) spend(w http.ResponseWriter) {
	m.mu.Lock()
	if m.remaining > 0 {
		m.remaining--
	}
	m.mu.Unlock()
	m.writeRateHeaders(w)
}

func (m *MockGitHub) writeRateHeaders(w http.ResponseWriter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(m.remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(m.resetAt.Unix(), 10))
	h.Set("X-RateLimit-Used", strconv.Itoa(m.limit-m.remaining))
	h.Set("X-RateLimit-Resource", "core")
}

func renderItems(kind string, ds []time.Time) []map[string]any {
	items := make([]map[string]any, 0, len(ds))
	for i, d := range ds {
		ts := d.UTC().Add(12 * time.Hour).Format(time.RFC3339)
		if kind == "commits" {
			items = append(items, map[string]any{
				"sha": fmt.Sprintf("%040x", i+1),
				"commit": map[string]any{
					"committer": map[string]any{"name": "octocat", "date": ts},
					"author":    map[string]any{"name": "octocat", "date": ts},
				},
			})
			continue
		}
		items = append(items, map[string]any{
			"number":     i + 1,
			"state":      "open",
			"created_at": ts,
		})
	}
	return items
}

// linkHeader renders links against the request URL so the query is preserved.
func linkHeader(base string, reqURL *url.URL, links pagination.Links) string {
	if len(links) == 0 {
		return ""
	}
	rels := make([]string, 0, len(links))
	for rel := range links {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	parts := make([]string, 0, len(rels))
	for _, rel := range rels {
		n, err := pagination.PageNumber(links[rel])
		if err != nil {
			continue
		}
		q := reqURL.Query()
		q.Set("page", strconv.Itoa(n))
		parts = append(parts, fmt.Sprintf(`<%s%s?%s>; rel="%s"`, base, reqURL.Path, q.Encode(), rel))
	}
	return strings.Join(parts, ", ")
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message":           msg,
		"documentation_url": "https://docs.github.com/rest",
	})
}

func repoKey(owner, repo, kind string) string {
	return strings.ToLower(owner + "/" + repo + "/" + kind)
}

func intParam(q url.Values, name string, def int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}

var (
	_ pagination.PageSource = (*Collection)(nil)
	_ pagination.URLFetcher = (*Collection)(nil)
)
