package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/store"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored audit runs, or the rows of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cfg.Output.HistoryDB == "" {
				return fmt.Errorf("no history database configured (output.history_db)")
			}

			s, err := store.Open(cfg.Output.HistoryDB)
			if err != nil {
				return err
			}
			defer s.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if runID != "" {
				rows, err := s.Rows(cmd.Context(), runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "REPO\tBULK\tREMOTE\tSTATUS")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s/%s\t%d\t%d\t%s\n", r.Org, r.Repo, r.BulkCount, r.RemoteCount, r.Status)
				}
				return nil
			}

			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "ID\tKIND\tCUTOFF\tREPOS\tMATCHED\tEXTRA\tMISSING\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", r.ID, r.Kind, dates.Format(r.Cutoff),
					r.Summary.Total, r.Summary.Matched, r.Summary.Extra, r.Summary.Missing, r.Summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 = all)")
	cmd.Flags().StringVar(&runID, "run", "", "show the rows of this run")
	return cmd
}
