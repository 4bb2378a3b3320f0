package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/gh-activity-audit/internal/config"
	"github.com/Sternrassler/gh-activity-audit/pkg/logging"
)

// options holds the global flags and the configuration they produce.
type options struct {
	configPath string
	asOf       string
	kinds      []string
	verify     bool
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "activity-audit",
		Short: "Audit bulk activity counts against the GitHub API",
		Long: `activity-audit compares per-repository commit and issue totals from a bulk
daily export with counts fetched live from the GitHub API, both as of the
same cutoff day, and reports every repository where they differ.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.asOf, "asof", "", "cutoff day YYYY-MM-DD (default: yesterday)")
	flags.StringSliceVar(&opts.kinds, "kind", nil, "collections to audit: commits, issues")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(opts),
		newAggregateCmd(opts),
		newScheduleCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// load reads the configuration and applies flags on top of it.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	if o.asOf != "" {
		cfg.Audit.AsOf = o.asOf
	}
	if len(o.kinds) > 0 {
		cfg.Audit.Kinds = o.kinds
	}
	if o.verify {
		cfg.Audit.Verify = true
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc := cfg.LoggingConfig()
	lc.Output = cmd.ErrOrStderr()
	logging.Setup(lc)

	o.cfg = cfg
	log.Debug().Str("command", cmd.Name()).Msg("Configuration loaded")
	return nil
}

func (o *options) config() (*config.Config, error) {
	if o.cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return o.cfg, nil
}
