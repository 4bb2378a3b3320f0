package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/metrics"
	"github.com/Sternrassler/gh-activity-audit/pkg/store"
)

const shutdownTimeout = 10 * time.Second

func newScheduleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the audit on a cron schedule and serve health and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newAuditor(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			s := newScheduler(a)
			c := cron.New(cron.WithChain(
				cron.Recover(cronLogger{log.Logger}),
				cron.SkipIfStillRunning(cronLogger{log.Logger}),
			))
			if _, err := c.AddFunc(cfg.Schedule.Cron, func() { s.runOnce(ctx, time.Now()) }); err != nil {
				return fmt.Errorf("schedule %q: %w", cfg.Schedule.Cron, err)
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()

			srv := &http.Server{
				Addr:              cfg.Schedule.Addr,
				Handler:           newRouter(a.rdb, a.history, s),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("cron", cfg.Schedule.Cron).Msg("Scheduler started")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// runner is what the scheduler triggers.
type runner interface {
	Run(ctx context.Context, cutoff time.Time) error
}

// scheduler runs audits for yesterday and remembers the outcome of the last one.
type scheduler struct {
	audit runner

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	runs     int
	failures int
}

func newScheduler(audit runner) *scheduler {
	return &scheduler{audit: audit}
}

func (s *scheduler) runOnce(ctx context.Context, now time.Time) {
	cutoff := dates.Yesterday(now)
	logger := log.With().Str("component", "schedule").Str("cutoff", dates.Format(cutoff)).Logger()
	logger.Info().Msg("Scheduled audit started")

	err := s.audit.Run(ctx, cutoff)

	s.mu.Lock()
	s.lastRun = now
	s.lastErr = err
	s.runs++
	if err != nil {
		s.failures++
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Msg("Scheduled audit failed")
		return
	}
	logger.Info().Dur("duration", time.Since(now)).Msg("Scheduled audit finished")
}

type scheduleStatus struct {
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
}

func (s *scheduler) status() scheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := scheduleStatus{Runs: s.runs, Failures: s.failures}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		st.LastRun = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// newRouter serves health, readiness, metrics, scheduler status and run history.
func newRouter(rdb *redis.Client, history *store.Store, s *scheduler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", readyHandler(rdb)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler(s)).Methods(http.MethodGet)
	if history != nil {
		r.HandleFunc("/runs", runsHandler(history)).Methods(http.MethodGet)
		r.HandleFunc("/runs/{id}", runRowsHandler(history)).Methods(http.MethodGet)
	}
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func statusHandler(s *scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.status())
	}
}

func runsHandler(history *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := history.ListRuns(r.Context(), 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []store.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func runRowsHandler(history *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if _, err := history.GetRun(r.Context(), id); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrRunNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		rows, err := history.Rows(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Str("component", "cron").Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Str("component", "cron").Err(err).Fields(keysAndValues).Msg(msg)
}
