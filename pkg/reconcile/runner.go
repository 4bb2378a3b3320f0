// Package reconcile compares the bulk count of every audited repository with
// the count fetched live from GitHub, both bounded to the same cutoff day.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/gh-activity-audit/pkg/counter"
	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/logging"
	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
)

// DefaultConcurrency is the number of repositories counted at once.
const DefaultConcurrency = 4

var (
	reposTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_audit_repos_total",
			Help: "Reconciled repositories by outcome",
		},
		[]string{"kind", "status"},
	)

	repoDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_audit_repo_duration_seconds",
			Help:    "Time spent counting one repository",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"kind"},
	)

	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_audit_reconcile_duration_seconds",
			Help:    "Duration of a full reconciliation run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"kind"},
	)
)

// SourceFunc returns the page source listing one repository's collection.
type SourceFunc func(e Entity) pagination.PageSource

// BulkCounter answers the bulk count of a repository.
type BulkCounter interface {
	Count(org, repo string) (int, error)
}

// Config holds runner settings.
type Config struct {
	// Kind labels logs and metrics (commits, issues).
	Kind string

	// Cutoff is the as-of day.
	Cutoff time.Time

	// Concurrency bounds the repositories counted at once.
	Concurrency int

	// Verify adds an exhaustive count to every row.
	Verify bool
}

// Runner reconciles a list of repositories.
type Runner struct {
	counter *counter.Counter
	sources SourceFunc
	bulk    BulkCounter
	fetcher *pagination.BatchFetcher
	config  Config
	logger  zerolog.Logger
}

// NewRunner creates a runner counting remote collections from sources with c
// and bulk counts from bulk.
func NewRunner(c *counter.Counter, sources SourceFunc, bulk BulkCounter, cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Runner{
		counter: c,
		sources: sources,
		bulk:    bulk,
		fetcher: pagination.NewBatchFetcher(pagination.DefaultConfig()),
		config:  cfg,
		logger:  log.With().Str("component", "reconcile").Str("kind", cfg.Kind).Logger(),
	}
}

// WithFetcher sets the batch fetcher used for verification.
func (r *Runner) WithFetcher(f *pagination.BatchFetcher) *Runner {
	r.fetcher = f
	return r
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(logger zerolog.Logger) *Runner {
	r.logger = logger
	return r
}

// Run reconciles entities and returns one row per entity in input order.
//
// A repository whose remote count fails yields a row with Err set and
// RemoteCount Failed; the run continues. A failing bulk lookup or a
// cancelled context aborts the run.
func (r *Runner) Run(ctx context.Context, entities []Entity) ([]Row, error) {
	start := time.Now()
	rows := make([]Row, len(entities))

	r.logger.Info().
		Int("repos", len(entities)).
		Str("cutoff", dates.Format(r.config.Cutoff)).
		Int("concurrency", r.config.Concurrency).
		Msg("Reconciliation started")

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for i, e := range entities {
		if gCtx.Err() != nil {
			break
		}
		i, e := i, e
		g.Go(func() error {
			row, err := r.reconcile(gCtx, e)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reconcileDuration.WithLabelValues(r.config.Kind).Observe(time.Since(start).Seconds())

	s := Summarize(rows)
	r.logger.Info().
		Int("repos", s.Total).
		Int("matched", s.Matched).
		Int("extra", s.Extra).
		Int("missing", s.Missing).
		Int("failed", s.Failed).
		Int("approximate", s.Approximate).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation finished")

	return rows, nil
}

// reconcile produces the row of one entity. Only run-level failures are returned.
func (r *Runner) reconcile(ctx context.Context, e Entity) (Row, error) {
	logger := logging.ForRepo(r.logger, e.Org, e.Repo)
	row := Row{
		Entity:          e,
		Cutoff:          dates.Day(r.config.Cutoff),
		ExhaustiveCount: Failed,
	}

	bulk, err := r.bulk.Count(e.Org, e.Repo)
	if err != nil {
		return Row{}, fmt.Errorf("bulk count %s: %w", e, err)
	}
	row.BulkCount = bulk

	src := r.sources(e)
	start := time.Now()
	res, err := r.counter.CountAsOf(ctx, src, r.config.Cutoff)
	row.Duration = time.Since(start)
	repoDuration.WithLabelValues(r.config.Kind).Observe(row.Duration.Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Row{}, ctxErr
		}
		row.RemoteCount = Failed
		row.Err = err
		reposTotal.WithLabelValues(r.config.Kind, row.Outcome()).Inc()
		logger.Error().Err(err).Msg("Remote count failed")
		return row, nil
	}

	row.RemoteCount = res.Count
	row.Approximate = res.Approximate
	row.PagesFetched = res.PagesFetched

	if r.config.Verify {
		r.verify(ctx, &row, src, logger)
	}

	reposTotal.WithLabelValues(r.config.Kind, row.Outcome()).Inc()

	event := logger.Info()
	if row.Status() != StatusMatch {
		event = logger.Warn()
	}
	event.
		Int("bulk", row.BulkCount).
		Int("remote", row.RemoteCount).
		Int("pages", row.PagesFetched).
		Bool("approximate", row.Approximate).
		Str("status", row.Status()).
		Msg("Repository reconciled")

	return row, nil
}

// verify records the exhaustive count; a failure leaves the row unverified.
func (r *Runner) verify(ctx context.Context, row *Row, src pagination.PageSource, logger zerolog.Logger) {
	n, err := counter.ExhaustiveCount(ctx, src, r.config.Cutoff, r.fetcher)
	if err != nil {
		logger.Warn().Err(err).Msg("Exhaustive count failed")
		return
	}
	row.ExhaustiveCount = n
	if n != row.RemoteCount {
		logger.Warn().
			Int("remote", row.RemoteCount).
			Int("exhaustive", n).
			Msg("Boundary count disagrees with exhaustive count")
	}
}
