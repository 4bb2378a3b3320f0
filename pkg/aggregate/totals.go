// Package aggregate turns the bulk daily-totals export into per-repository
// cumulative totals and answers per-repository lookups against them.
//
// The bulk export holds one row per repository and day:
//
//	2017-05-09,octo/hello,2,1,14
//
// with the columns date, org/repo, issues, pull requests and commits.
// Aggregate sums every row dated on or before the cutoff into a Totals map,
// which is written to and read from the intermediate totals file
// (org/repo,issues,prs,commits) named by FileName.
package aggregate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
)

// ErrMalformedRow indicates a bulk or totals row that cannot be parsed.
var ErrMalformedRow = errors.New("malformed row")

// Metric selects one column of the totals.
type Metric string

const (
	MetricIssues       Metric = "issues"
	MetricPullRequests Metric = "pull_requests"
	MetricCommits      Metric = "commits"
)

// ParseMetric parses a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricIssues, MetricPullRequests, MetricCommits:
		return m, nil
	case "prs", "pulls":
		return MetricPullRequests, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// Counts holds the cumulative totals of one repository.
type Counts struct {
	Issues       int
	PullRequests int
	Commits      int
}

// Get returns the count for metric m.
func (c Counts) Get(m Metric) int {
	switch m {
	case MetricIssues:
		return c.Issues
	case MetricPullRequests:
		return c.PullRequests
	case MetricCommits:
		return c.Commits
	default:
		return 0
	}
}

func (c Counts) add(o Counts) Counts {
	return Counts{
		Issues:       c.Issues + o.Issues,
		PullRequests: c.PullRequests + o.PullRequests,
		Commits:      c.Commits + o.Commits,
	}
}

// Totals maps an "org/repo" key, as spelled in the export, to its counts.
type Totals map[string]Counts

// Keys returns the keys in sorted order.
func (t Totals) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FileName returns the totals file name for a cutoff.
func FileName(cutoff time.Time) string {
	return "repototals-" + dates.Format(cutoff) + ".csv"
}

// Aggregate sums the daily rows of r dated on or before cutoff.
// A leading header row whose first column is "date" is skipped.
func Aggregate(r io.Reader, cutoff time.Time) (Totals, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	totals := Totals{}
	for line := 1; ; line++ {
		values, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read daily totals: %w", err)
		}
		if line == 1 && len(values) > 0 && strings.EqualFold(strings.TrimSpace(values[0]), "date") {
			continue
		}
		if len(values) < 5 {
			return nil, fmt.Errorf("%w: line %d has %d fields, want 5", ErrMalformedRow, line, len(values))
		}

		day, err := dates.ParseDay(values[0])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		if !dates.OnOrBefore(day, cutoff) {
			continue
		}

		counts, err := parseCounts(values[2:5])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		key := values[1]
		totals[key] = totals[key].add(counts)
	}
	return totals, nil
}

// AggregateFile runs Aggregate over the daily totals file at path.
func AggregateFile(path string, cutoff time.Time) (Totals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open daily totals: %w", err)
	}
	defer f.Close()
	return Aggregate(f, cutoff)
}

// WriteTotals writes t as org/repo,issues,prs,commits rows sorted by key.
func WriteTotals(w io.Writer, t Totals) error {
	cw := csv.NewWriter(w)
	for _, key := range t.Keys() {
		c := t[key]
		record := []string{key, strconv.Itoa(c.Issues), strconv.Itoa(c.PullRequests), strconv.Itoa(c.Commits)}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write totals: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTotalsFile writes t to path, creating parent directories.
func WriteTotalsFile(path string, t Totals) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create totals dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create totals file: %w", err)
	}
	if err := WriteTotals(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadTotals reads a totals file written by WriteTotals.
func ReadTotals(r io.Reader) (Totals, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4

	totals := Totals{}
	for line := 1; ; line++ {
		values, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		counts, err := parseCounts(values[1:4])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		totals[values[0]] = counts
	}
	return totals, nil
}

// ReadTotalsFile reads the totals file at path.
func ReadTotalsFile(path string) (Totals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open totals: %w", err)
	}
	defer f.Close()
	return ReadTotals(f)
}

func parseCounts(fields []string) (Counts, error) {
	var n [3]int
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Counts{}, fmt.Errorf("count %q: %w", f, err)
		}
		if v < 0 {
			return Counts{}, fmt.Errorf("negative count %d", v)
		}
		n[i] = v
	}
	return Counts{Issues: n[0], PullRequests: n[1], Commits: n[2]}, nil
}
