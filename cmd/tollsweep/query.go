package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vulnverified/tollsweep/internal/config"
	"github.com/vulnverified/tollsweep/internal/output"
	"github.com/vulnverified/tollsweep/internal/pattern"
	"github.com/vulnverified/tollsweep/internal/store"
)

type queryFlags struct {
	database   string
	configPath string
	jsonOutput bool
	noColor    bool
}

func newQueryCommand() *cobra.Command {
	qf := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read results back from the database",
	}
	cmd.PersistentFlags().StringVarP(&qf.database, "database", "d", "", "SQLite database path (default from config)")
	cmd.PersistentFlags().StringVar(&qf.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().BoolVar(&qf.jsonOutput, "json", false, "Output as JSON")
	cmd.PersistentFlags().BoolVar(&qf.noColor, "no-color", false, "Disable terminal colors")

	cmd.AddCommand(
		newResolutionsCommand(qf),
		newVerificationsCommand(qf),
		newCountCommand(qf),
		newRunsCommand(qf),
	)
	return cmd
}

func newResolutionsCommand(qf *queryFlags) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "resolutions",
		Short: "List resolution records at or after --since",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), qf, func(ctx context.Context, st *store.Store) error {
				recs, err := st.ResolutionsSince(ctx, from)
				if err != nil {
					return err
				}
				if qf.jsonOutput {
					return output.WriteJSON(os.Stdout, recs)
				}
				output.WriteResolutions(os.Stdout, recs, qf.noColor)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "24h", "Duration ago (e.g. 1h) or timestamp")
	return cmd
}

func newVerificationsCommand(qf *queryFlags) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "verifications",
		Short: "List verification records whose hostname starts with --prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), qf, func(ctx context.Context, st *store.Store) error {
				recs, err := st.VerificationsByPrefix(ctx, prefix)
				if err != nil {
					return err
				}
				if qf.jsonOutput {
					return output.WriteJSON(os.Stdout, recs)
				}
				output.WriteVerifications(os.Stdout, recs, qf.noColor)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Hostname prefix, e.g. sunpass.com-")
	return cmd
}

func newCountCommand(qf *queryFlags) *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count distinct hostnames that resolved in a window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			from, err := parseSince(since, now)
			if err != nil {
				return err
			}
			var to time.Time
			if until != "" {
				if to, err = parseSince(until, now); err != nil {
					return err
				}
			}
			return withStore(cmd.Context(), qf, func(ctx context.Context, st *store.Store) error {
				n, err := st.CountResolved(ctx, from, to)
				if err != nil {
					return err
				}
				if qf.jsonOutput {
					return output.WriteJSON(os.Stdout, map[string]any{
						"from":     from.UTC(),
						"to":       to.UTC(),
						"resolved": n,
					})
				}
				fmt.Fprintln(os.Stdout, n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "24h", "Window start: duration ago or timestamp")
	cmd.Flags().StringVar(&until, "until", "", "Window end: duration ago or timestamp (default now)")
	return cmd
}

func newRunsCommand(qf *queryFlags) *cobra.Command {
	var (
		src       string
		alphabet  string
		maxLength int
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(qf.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("alphabet") {
				cfg.Run.Alphabet = alphabet
			}
			if cmd.Flags().Changed("max-length") {
				cfg.Run.MaxLength = maxLength
			}
			id, err := runsPatternID(src, cfg)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), qf, func(ctx context.Context, st *store.Store) error {
				runs, err := st.Runs(ctx, id, limit)
				if err != nil {
					return err
				}
				if qf.jsonOutput {
					return output.WriteJSON(os.Stdout, runs)
				}
				output.WriteRuns(os.Stdout, runs, qf.noColor)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&src, "pattern", "p", "", "Only runs of this pattern")
	cmd.Flags().StringVar(&alphabet, "alphabet", "", "Alphabet the runs were made with")
	cmd.Flags().IntVar(&maxLength, "max-length", 0, "Segment length cap the runs were made with")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return cmd
}

// runsPatternID returns the canonical id a run of src was recorded under,
// compiling with the same options a sweep uses. An empty src matches every
// run.
func runsPatternID(src string, cfg *config.Config) (string, error) {
	if src == "" {
		return "", nil
	}
	p, err := pattern.Compile(src, patternOptions(cfg))
	if err != nil {
		return "", err
	}
	return p.ID(), nil
}

func withStore(ctx context.Context, qf *queryFlags, fn func(context.Context, *store.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(qf.configPath)
	if err != nil {
		return err
	}
	path := cfg.Database
	if qf.database != "" {
		path = qf.database
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("database %s: %w", path, err)
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		qf.noColor = true
	}

	st, err := store.Open(path)
	if err != nil {
		return err
	}
	if err := fn(ctx, st); err != nil {
		st.Close()
		return err
	}
	return st.Close()
}

// parseSince accepts a duration before now ("36h"), a date ("2025-03-01")
// or a timestamp in RFC 3339 or the stored layout.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration %q", s)
		}
		return now.Add(-d).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, store.TimeLayout, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a duration or timestamp", s)
}
