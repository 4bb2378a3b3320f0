package aggregate

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Loader produces the totals a Lookup answers from.
// It is called at most once per Lookup.
type Loader func() (Totals, error)

// FileLoader loads a totals file written by WriteTotalsFile.
func FileLoader(path string) Loader {
	return func() (Totals, error) {
		return ReadTotalsFile(path)
	}
}

// StaticLoader serves totals already in memory.
func StaticLoader(t Totals) Loader {
	return func() (Totals, error) {
		return t, nil
	}
}

// Lookup answers cumulative counts of one metric per repository.
//
// The totals are loaded on the first call to Count and never reloaded, so a
// Lookup belongs to exactly one run. A load error is kept and returned to
// every later caller. After loading, Count is safe for concurrent use.
type Lookup struct {
	metric Metric
	load   Loader
	logger zerolog.Logger

	once   sync.Once
	counts map[string]int
	err    error
}

// NewLookup creates a lookup of metric over the totals produced by load.
func NewLookup(metric Metric, load Loader) *Lookup {
	return &Lookup{
		metric: metric,
		load:   load,
		logger: log.With().Str("component", "aggregate").Str("metric", string(metric)).Logger(),
	}
}

// Metric returns the metric this lookup answers.
func (l *Lookup) Metric() Metric {
	return l.metric
}

// Count returns the total for org/repo, or 0 when the repository is absent.
// Keys match case-insensitively.
func (l *Lookup) Count(org, repo string) (int, error) {
	l.once.Do(l.populate)
	if l.err != nil {
		return 0, l.err
	}
	return l.counts[Key(org, repo)], nil
}

// Len returns the number of repositories known to the lookup.
func (l *Lookup) Len() (int, error) {
	l.once.Do(l.populate)
	return len(l.counts), l.err
}

func (l *Lookup) populate() {
	totals, err := l.load()
	if err != nil {
		l.err = err
		l.logger.Error().Err(err).Msg("Failed to load aggregate totals")
		return
	}

	counts := make(map[string]int, len(totals))
	for _, key := range totals.Keys() {
		// spellings differing only in case: the last in sort order wins
		counts[strings.ToLower(key)] = totals[key].Get(l.metric)
	}
	l.counts = counts

	l.logger.Info().Int("repos", len(counts)).Msg("Aggregate totals loaded")
}

// Key returns the lookup key of a repository.
func Key(org, repo string) string {
	return strings.ToLower(org + "/" + repo)
}
