package reconcile

import (
	"time"
)

// Failed is the remote count recorded for a repository whose count failed.
const Failed = -1

// Status labels comparing the bulk count with the remote count.
const (
	StatusMatch   = "-------"
	StatusExtra   = "extra"
	StatusMissing = "MISSING"
	StatusError   = "ERROR"
)

// Row is the reconciliation result of one repository.
type Row struct {
	Entity

	// Cutoff is the as-of day both counts are bounded by.
	Cutoff time.Time

	// BulkCount comes from the aggregated export.
	BulkCount int

	// RemoteCount comes from the GitHub API, or Failed.
	RemoteCount int

	// Approximate is set when the remote count relied on a broken page size assumption.
	Approximate bool

	// PagesFetched is the number of API pages the remote count needed.
	PagesFetched int

	// ExhaustiveCount is the full-scan count when verification ran, else Failed.
	ExhaustiveCount int

	// Duration is the time spent on the remote count.
	Duration time.Duration

	// Err is the remote count failure.
	Err error
}

// Status compares the two counts.
func (r Row) Status() string {
	switch {
	case r.Err != nil || r.RemoteCount == Failed:
		return StatusError
	case r.BulkCount == r.RemoteCount:
		return StatusMatch
	case r.BulkCount > r.RemoteCount:
		return StatusExtra
	default:
		return StatusMissing
	}
}

// Outcome is Status as a metric label.
func (r Row) Outcome() string {
	switch r.Status() {
	case StatusMatch:
		return "match"
	case StatusExtra:
		return "extra"
	case StatusMissing:
		return "missing"
	default:
		return "error"
	}
}

// Verified reports whether an exhaustive count ran and agreed.
func (r Row) Verified() bool {
	return r.ExhaustiveCount != Failed && r.ExhaustiveCount == r.RemoteCount
}

// Summary tallies rows by status.
type Summary struct {
	Total       int
	Matched     int
	Extra       int
	Missing     int
	Failed      int
	Approximate int
}

// Summarize tallies rows.
func Summarize(rows []Row) Summary {
	s := Summary{Total: len(rows)}
	for _, r := range rows {
		switch r.Status() {
		case StatusMatch:
			s.Matched++
		case StatusExtra:
			s.Extra++
		case StatusMissing:
			s.Missing++
		case StatusError:
			s.Failed++
		}
		if r.Approximate {
			s.Approximate++
		}
	}
	return s
}
