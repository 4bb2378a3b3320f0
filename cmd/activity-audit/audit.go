package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/gh-activity-audit/internal/config"
	"github.com/Sternrassler/gh-activity-audit/pkg/aggregate"
	"github.com/Sternrassler/gh-activity-audit/pkg/client"
	"github.com/Sternrassler/gh-activity-audit/pkg/counter"
	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/pagination"
	"github.com/Sternrassler/gh-activity-audit/pkg/reconcile"
	"github.com/Sternrassler/gh-activity-audit/pkg/store"
)

// auditor runs complete audits against one GitHub client.
type auditor struct {
	cfg     *config.Config
	rdb     *redis.Client
	gh      *client.Client
	history *store.Store
	out     io.Writer
	logger  zerolog.Logger
}

// newAuditor connects to Redis, builds the GitHub client and opens the
// history store when configured. Close releases all of them.
func newAuditor(ctx context.Context, cfg *config.Config, out io.Writer) (*auditor, error) {
	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gh, err := client.New(cfg.ClientConfig(rdb))
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("create GitHub client: %w", err)
	}

	a := &auditor{
		cfg:    cfg,
		rdb:    rdb,
		gh:     gh,
		out:    out,
		logger: log.With().Str("component", "audit").Logger(),
	}

	if cfg.Output.HistoryDB != "" {
		a.history, err = store.Open(cfg.Output.HistoryDB)
		if err != nil {
			gh.Close()
			rdb.Close()
			return nil, err
		}
	}
	return a, nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// Close releases the client, Redis and the store.
func (a *auditor) Close() error {
	var errs []error
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	errs = append(errs, a.gh.Close(), a.rdb.Close())
	return errors.Join(errs...)
}

// ensureTotals rebuilds the totals file from the daily export when one is
// configured, and returns the totals path either way.
func ensureTotals(cfg *config.Config, cutoff time.Time) (string, error) {
	path := cfg.TotalsPath(cutoff)
	if cfg.Bulk.DailyFile == "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("totals file: %w", err)
		}
		return path, nil
	}

	totals, err := aggregate.AggregateFile(cfg.Bulk.DailyFile, cutoff)
	if err != nil {
		return "", err
	}
	if err := aggregate.WriteTotalsFile(path, totals); err != nil {
		return "", err
	}
	log.Info().
		Str("daily_file", cfg.Bulk.DailyFile).
		Str("totals_file", path).
		Int("repos", len(totals)).
		Msg("Daily totals aggregated")
	return path, nil
}

func readEntities(cfg *config.Config) ([]reconcile.Entity, error) {
	filter, err := cfg.Filter()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(cfg.Repos.File)
	if err != nil {
		return nil, fmt.Errorf("open repository list: %w", err)
	}
	defer f.Close()
	return reconcile.ReadEntities(f, cfg.Repos.Column, filter)
}

func metricFor(kind client.Kind) aggregate.Metric {
	if kind == client.KindCommits {
		return aggregate.MetricCommits
	}
	return aggregate.MetricIssues
}

// Run audits every configured kind as of cutoff.
func (a *auditor) Run(ctx context.Context, cutoff time.Time) error {
	kinds, err := a.cfg.Kinds()
	if err != nil {
		return err
	}
	totalsPath, err := ensureTotals(a.cfg, cutoff)
	if err != nil {
		return err
	}
	entities, err := readEntities(a.cfg)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("cutoff", dates.Format(cutoff)).
		Int("repos", len(entities)).
		Int("kinds", len(kinds)).
		Msg("Audit started")

	for _, kind := range kinds {
		if err := a.runKind(ctx, kind, cutoff, totalsPath, entities); err != nil {
			return fmt.Errorf("audit %s: %w", kind, err)
		}
	}
	return nil
}

func (a *auditor) runKind(ctx context.Context, kind client.Kind, cutoff time.Time, totalsPath string, entities []reconcile.Entity) error {
	perPage := a.cfg.GitHub.PerPage
	logger := a.logger.With().Str("kind", string(kind)).Logger()

	lookup := aggregate.NewLookup(metricFor(kind), aggregate.FileLoader(totalsPath))
	sources := func(e reconcile.Entity) pagination.PageSource {
		return a.gh.RepoSource(e.Org, e.Repo, kind, perPage)
	}
	runner := reconcile.NewRunner(counter.New(perPage).WithLogger(logger), sources, lookup, reconcile.Config{
		Kind:        string(kind),
		Cutoff:      cutoff,
		Concurrency: a.cfg.Audit.Concurrency,
		Verify:      a.cfg.Audit.Verify,
	}).WithLogger(logger)

	run := store.NewRun(string(kind), cutoff, time.Now())
	rows, err := runner.Run(ctx, entities)
	if err != nil {
		return err
	}
	run.FinishedAt = time.Now().UTC()

	for _, row := range rows {
		fmt.Fprintln(a.out, reconcile.ConsoleLine(row, cutoff))
	}

	report := a.cfg.ReportPath(kind, cutoff)
	if err := reconcile.WriteReportFile(report, rows); err != nil {
		return err
	}
	logger.Info().Str("report", report).Msg("Report written")

	if a.history != nil {
		if err := a.history.SaveRun(ctx, run, rows); err != nil {
			return err
		}
		logger.Debug().Str("run_id", run.ID).Msg("Run saved")
	}
	return nil
}
