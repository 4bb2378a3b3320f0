package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/gh-activity-audit/pkg/aggregate"
	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
)

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile bulk and GitHub counts once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			cutoff, err := cfg.Cutoff(time.Now())
			if err != nil {
				return err
			}

			a, err := newAuditor(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(cmd.Context(), cutoff)
		},
	}
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "cross-check every count with a full scan")
	return cmd
}

func newAggregateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Build the repository totals file from the daily export",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			cutoff, err := cfg.Cutoff(time.Now())
			if err != nil {
				return err
			}

			totals, err := aggregate.AggregateFile(cfg.Bulk.DailyFile, cutoff)
			if err != nil {
				return err
			}
			path := cfg.TotalsPath(cutoff)
			if err := aggregate.WriteTotalsFile(path, totals); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d repositories as of %s\n", path, len(totals), dates.Format(cutoff))
			return nil
		},
	}
}
