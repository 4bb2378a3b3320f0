// Package dates provides calendar-day handling for as-of-date counting.
//
// All comparisons happen at day resolution: a timestamp is reduced to the
// YYYY-MM-DD prefix it carries, so every item dated on the cutoff qualifies.
package dates

import (
	"fmt"
	"time"
)

// Layout is the calendar day layout used by cutoffs, bulk exports and reports.
const Layout = "2006-01-02"

// ParseDay parses a date or timestamp string into a calendar day (UTC midnight).
// Timestamps are truncated to their first 10 characters, so
// "2017-05-10T23:59:59Z" and "2017-05-10" are the same day.
func ParseDay(s string) (time.Time, error) {
	if len(s) < len(Layout) {
		return time.Time{}, fmt.Errorf("parse day %q: too short", s)
	}
	day, err := time.Parse(Layout, s[:len(Layout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return day, nil
}

// Day truncates t to its calendar day in t's own location, returned as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// OnOrBefore reports whether day t is on or before cutoff.
func OnOrBefore(t, cutoff time.Time) bool {
	return !Day(t).After(Day(cutoff))
}

// Format renders a day as YYYY-MM-DD.
func Format(t time.Time) string {
	return Day(t).Format(Layout)
}

// Yesterday returns the calendar day before now, in UTC.
// Bulk exports are generated at the end of each business day, so the
// previous day is the latest cutoff both sources can agree on.
func Yesterday(now time.Time) time.Time {
	return Day(now.UTC()).AddDate(0, 0, -1)
}
