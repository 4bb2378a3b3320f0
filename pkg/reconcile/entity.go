package reconcile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// DefaultRepoColumn is the column of the repository export holding "org/repo".
const DefaultRepoColumn = 11

// DocumentationPattern matches repositories that only hold documentation.
const DocumentationPattern = `(?i)(^|[-_.])(docs?|documentation)($|[-_.])`

// ErrMalformedEntity indicates a repository list row without a usable org/repo.
var ErrMalformedEntity = errors.New("malformed repository")

// Entity is one repository under audit.
type Entity struct {
	Org  string
	Repo string
}

// ParseEntity parses "org/repo".
func ParseEntity(s string) (Entity, error) {
	org, repo, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || org == "" || repo == "" || strings.Contains(repo, "/") {
		return Entity{}, fmt.Errorf("%w: %q", ErrMalformedEntity, s)
	}
	return Entity{Org: org, Repo: repo}, nil
}

func (e Entity) String() string {
	return e.Org + "/" + e.Repo
}

// Filter selects the repositories to audit.
type Filter struct {
	orgs    map[string]bool
	exclude []*regexp.Regexp
}

// NewFilter builds a filter from an org allow-list (empty allows every org)
// and repository name patterns to skip.
func NewFilter(orgs []string, exclude []string) (Filter, error) {
	f := Filter{}
	if len(orgs) > 0 {
		f.orgs = make(map[string]bool, len(orgs))
		for _, o := range orgs {
			f.orgs[strings.ToLower(strings.TrimSpace(o))] = true
		}
	}
	for _, pattern := range exclude {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Filter{}, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

// Allows reports whether e is audited.
func (f Filter) Allows(e Entity) bool {
	if f.orgs != nil && !f.orgs[strings.ToLower(e.Org)] {
		return false
	}
	for _, re := range f.exclude {
		if re.MatchString(e.Repo) {
			return false
		}
	}
	return true
}

// ReadEntities reads the repository export r, taking org/repo from column
// and keeping the rows f allows, in file order. A first row whose column
// holds no "/" is treated as a header.
func ReadEntities(r io.Reader, column int, f Filter) ([]Entity, error) {
	if column < 0 {
		column = DefaultRepoColumn
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var entities []Entity
	for line := 1; ; line++ {
		values, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read repository list: %w", err)
		}
		if len(values) <= column {
			return nil, fmt.Errorf("%w: line %d has %d columns, want > %d", ErrMalformedEntity, line, len(values), column)
		}
		if line == 1 && !strings.Contains(values[column], "/") {
			continue
		}

		e, err := ParseEntity(values[column])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if f.Allows(e) {
			entities = append(entities, e)
		}
	}
	return entities, nil
}
