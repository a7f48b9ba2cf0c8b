package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/tally/internal/storage/parquet"
	"github.com/xtxerr/tally/internal/storage/query"
	"github.com/xtxerr/tally/internal/storage/stats"
)

// newRootCmd creates the root command. Persistent flags default to the
// current app values so shell lines inherit earlier settings.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tallyctl",
		Short:         "Inspect a tally storage directory",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", a.configPath, "engine config file")
	pf.StringVarP(&a.dir, "dir", "d", a.dir, "storage directory (overrides config)")
	pf.StringVarP(&a.format, "format", "o", a.format, "output format: auto, table, json")
	pf.BoolVarP(&a.verbose, "verbose", "v", a.verbose, "log debug output to stderr")

	rootCmd.AddCommand(
		newQueryCmd(a),
		newStatsCmd(a),
		newExportCmd(a),
		newReadCmd(a),
		newUsageCmd(a),
		newCleanupCmd(a),
		newShellCmd(a),
	)

	return rootCmd
}

// filterFlags are the query flags shared by query, stats and export.
type filterFlags struct {
	dims  map[string]string
	start string
	end   string
	limit int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringToStringVar(&f.dims, "dim", nil, "dimension filter key=value, repeatable")
	cmd.Flags().StringVar(&f.start, "start", "", "inclusive start: RFC3339, unix ms, or a duration before now (1h)")
	cmd.Flags().StringVar(&f.end, "end", "", "inclusive end, same forms as --start")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum samples, 0 for all")
}

func (f *filterFlags) query(metric string, now time.Time) (query.Query, error) {
	start, err := parseTime(f.start, now)
	if err != nil {
		return query.Query{}, fmt.Errorf("--start: %w", err)
	}
	end, err := parseTime(f.end, now)
	if err != nil {
		return query.Query{}, fmt.Errorf("--end: %w", err)
	}

	return query.Query{
		MetricName: metric,
		Dimensions: f.dims,
		StartTime:  start,
		EndTime:    end,
		Limit:      f.limit,
	}, nil
}

func newQueryCmd(a *app) *cobra.Command {
	var f filterFlags

	cmd := &cobra.Command{
		Use:     "query METRIC",
		Aliases: []string{"q"},
		Short:   "List persisted samples of a metric",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query(args[0], time.Now())
			if err != nil {
				return err
			}
			svc, err := a.queryService()
			if err != nil {
				return err
			}

			samples, err := svc.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			return a.printSamples(samples)
		},
	}
	f.register(cmd)

	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var f filterFlags

	cmd := &cobra.Command{
		Use:   "stats METRIC",
		Short: "Summarise persisted samples of a metric",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query(args[0], time.Now())
			if err != nil {
				return err
			}
			svc, err := a.queryService()
			if err != nil {
				return err
			}

			samples, err := svc.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			return a.printStatistics(args[0], stats.OfSamples(samples))
		},
	}
	f.register(cmd)

	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		f   filterFlags
		out string
	)

	cmd := &cobra.Command{
		Use:   "export METRIC",
		Short: "Write persisted samples of a metric to a Parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query(args[0], time.Now())
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".parquet"
			}
			svc, err := a.queryService()
			if err != nil {
				return err
			}

			n, err := svc.Export(cmd.Context(), q, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %d samples to %s\n", n, out)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "output file (default METRIC.parquet)")

	return cmd
}

// newReadCmd prints an exported Parquet file. It needs no storage directory.
func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read FILE",
		Short: "Print the samples of an exported Parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := parquet.ReadFile(args[0])
			if err != nil {
				return err
			}
			return a.printSamples(samples)
		},
	}
}

func newUsageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show shard count and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.retentionManager(0)
			if err != nil {
				return err
			}
			if a.wantJSON() {
				usage, err := m.GetDiskUsage()
				if err != nil {
					return err
				}
				return a.printJSON(usage)
			}
			fmt.Fprint(a.out, m.FormatDiskUsage())
			return nil
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		days   int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete shards older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.retentionManager(days)
			if err != nil {
				return err
			}

			if dryRun {
				return a.printCleanup(m.DryRun())
			}
			return a.printCleanup(m.RunCleanup())
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only report what would be deleted")
	cmd.Flags().IntVar(&days, "retention", 0, "retention period in days (overrides config)")

	return cmd
}

// parseTime accepts RFC3339, unix milliseconds, or a duration meaning that
// long before now. Empty means unbounded.
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return time.Time{}, nil
	case s == "now":
		return now, nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	if d, err := time.ParseDuration(strings.TrimPrefix(s, "-")); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
