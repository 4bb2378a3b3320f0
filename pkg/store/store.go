// Package store keeps a history of reconciliation runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/reconcile"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run describes one reconciliation pass of one kind.
type Run struct {
	ID         string
	Kind       string
	Cutoff     time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    reconcile.Summary
}

// RowRecord is a stored reconciliation row.
type RowRecord struct {
	Org             string
	Repo            string
	BulkCount       int
	RemoteCount     int
	ExhaustiveCount int
	Approximate     bool
	Status          string
	Error           string
}

// Store persists runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			cutoff TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			matched INTEGER NOT NULL DEFAULT 0,
			extra INTEGER NOT NULL DEFAULT 0,
			missing INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			approximate INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS rows (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			org TEXT NOT NULL,
			repo TEXT NOT NULL,
			bulk INTEGER NOT NULL,
			remote INTEGER NOT NULL,
			exhaustive INTEGER NOT NULL,
			approximate INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_repo ON rows(org, repo)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// NewRun starts a run record with a fresh ID.
func NewRun(kind string, cutoff, startedAt time.Time) Run {
	return Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Cutoff:    dates.Day(cutoff),
		StartedAt: startedAt.UTC(),
	}
}

// SaveRun stores run and its rows in one transaction. The summary is
// computed from rows.
func (s *Store) SaveRun(ctx context.Context, run Run, rows []reconcile.Row) (err error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	sum := reconcile.Summarize(rows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, cutoff, started_at, finished_at, total, matched, extra, missing, failed, approximate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, dates.Format(run.Cutoff),
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
		sum.Total, sum.Matched, sum.Extra, sum.Missing, sum.Failed, sum.Approximate,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rows (run_id, position, org, repo, bulk, remote, exhaustive, approximate, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		var msg string
		if r.Err != nil {
			msg = r.Err.Error()
		}
		if _, err = stmt.ExecContext(ctx, run.ID, i, r.Org, r.Repo, r.BulkCount, r.RemoteCount,
			r.ExhaustiveCount, boolInt(r.Approximate), r.Status(), msg); err != nil {
			return fmt.Errorf("insert row %s: %w", r.Entity, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first, at most limit (0 = all).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, kind, cutoff, started_at, finished_at, total, matched, extra, missing, failed, approximate
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, cutoff, started_at, finished_at, total, matched, extra, missing, failed, approximate
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Rows returns the rows of a run in their original order.
func (s *Store) Rows(ctx context.Context, runID string) ([]RowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org, repo, bulk, remote, exhaustive, approximate, status, error
		FROM rows WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var out []RowRecord
	for rows.Next() {
		var r RowRecord
		var approx int
		if err := rows.Scan(&r.Org, &r.Repo, &r.BulkCount, &r.RemoteCount, &r.ExhaustiveCount, &approx, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Approximate = approx != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var cutoff, started, finished string
	err := sc.Scan(&run.ID, &run.Kind, &cutoff, &started, &finished,
		&run.Summary.Total, &run.Summary.Matched, &run.Summary.Extra,
		&run.Summary.Missing, &run.Summary.Failed, &run.Summary.Approximate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if run.Cutoff, err = dates.ParseDay(cutoff); err != nil {
		return Run{}, err
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
