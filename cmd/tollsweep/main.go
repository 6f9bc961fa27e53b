package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/vulnverified/tollsweep/internal/config"
	"github.com/vulnverified/tollsweep/internal/engine"
	"github.com/vulnverified/tollsweep/internal/output"
	"github.com/vulnverified/tollsweep/internal/pattern"
	"github.com/vulnverified/tollsweep/internal/recon"
	"github.com/vulnverified/tollsweep/internal/store"
)

// Set via ldflags at build time.
var version = "dev"

// runFlags holds the values of the run command's flags. Only flags the user
// actually set override the config file.
type runFlags struct {
	configPath  string
	pattern     string
	input       string
	offset      uint64
	limit       uint64
	resume      bool
	shuffle     bool
	seed        uint64
	alphabet    string
	maxLength   int
	concurrency int
	verify      int
	queueSize   int
	statusPath  string
	database    string
	dnsTimeout  time.Duration
	httpTimeout time.Duration
	nameservers []string
	scheme      string
	port        int
	enrich      []string
	noEnrich    bool
	jsonOutput  bool
	noColor     bool
	silent      bool
	verbose     bool
	logLevel    string
	logFormat   string
}

func main() {
	output.Version = version

	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &runFlags{}
	defaults := config.Default()

	rootCmd := &cobra.Command{
		Use:   "tollsweep --pattern <pattern>",
		Short: "Find toll-payment phishing domains",
		Long: "Generate candidate hostnames from a pattern, resolve them at scale, record the " +
			"owning network of every hit and probe live hosts over HTTP. Every observation " +
			"is appended to a SQLite store for trend analysis.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, f)
		},
	}

	fl := rootCmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML config file")
	fl.StringVarP(&f.pattern, "pattern", "p", "", "Hostname pattern, e.g. 'sunpass.com-[a-z]{4}.win'")
	fl.StringVarP(&f.input, "input", "i", "", "File of hostnames to probe (one per line)")
	fl.Uint64Var(&f.offset, "offset", 0, "Start generation at this candidate ordinal")
	fl.Uint64Var(&f.limit, "limit", 0, "Stop after this many pattern candidates (0 = all)")
	fl.BoolVar(&f.resume, "resume", false, "Continue from where the last run of this pattern stopped")
	fl.BoolVarP(&f.shuffle, "shuffle", "s", false, "Enumerate candidates in a seeded pseudo-random order")
	fl.Uint64Var(&f.seed, "seed", 0, "Shuffle seed (default: random, printed in the summary)")
	fl.StringVar(&f.alphabet, "alphabet", "", "Restrict every character class to these characters")
	fl.IntVar(&f.maxLength, "max-length", defaults.Run.MaxLength, "Longest allowed variable segment")
	fl.IntVarP(&f.concurrency, "concurrency", "c", defaults.Run.Concurrency, "Concurrent DNS resolutions")
	fl.IntVarP(&f.verify, "http-concurrency", "H", defaults.Run.VerifyConcurrency, "Concurrent HTTP probes")
	fl.IntVar(&f.queueSize, "queue-size", 0, "Candidate queue bound (default 2x concurrency)")
	fl.StringVar(&f.statusPath, "status-path", defaults.Run.StatusPath, "HTTP path probed on resolved hosts")
	fl.StringVarP(&f.database, "database", "d", defaults.Database, "SQLite database path")
	fl.DurationVarP(&f.dnsTimeout, "timeout", "t", defaults.DNS.Timeout, "Per-attempt DNS timeout")
	fl.DurationVar(&f.httpTimeout, "http-timeout", defaults.HTTP.Timeout, "Per-probe HTTP timeout")
	fl.StringSliceVar(&f.nameservers, "nameserver", nil, "Recursive nameserver (repeatable, default: resolv.conf)")
	fl.StringVar(&f.scheme, "scheme", defaults.HTTP.Scheme, "Probe scheme (http or https)")
	fl.IntVar(&f.port, "port", 0, "Probe port (default: scheme default)")
	fl.StringSliceVar(&f.enrich, "enrich", defaults.Enrich.Sources, "Network enrichment sources in fallback order (cymru, ip-api)")
	fl.BoolVar(&f.noEnrich, "no-enrich", false, "Skip network enrichment")
	fl.BoolVar(&f.jsonOutput, "json", false, "Output the run summary as JSON to stdout")
	fl.BoolVar(&f.noColor, "no-color", false, "Disable terminal colors")
	fl.BoolVar(&f.silent, "silent", false, "Results only, no progress")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "Print every resolved host and probe result")
	fl.StringVar(&f.logLevel, "log-level", defaults.Log.Level, "Diagnostic log level (debug, info, warn, error)")
	fl.StringVar(&f.logFormat, "log-format", defaults.Log.Format, "Diagnostic log format (text, json)")

	rootCmd.AddCommand(newQueryCommand(), newPatternsCommand())

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("tollsweep {{.Version}}\n")
	return rootCmd
}

func runSweep(cmd *cobra.Command, f *runFlags) (err error) {
	if f.pattern == "" && f.input == "" {
		return errors.New("one of --pattern or --input is required")
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg, f)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Respect NO_COLOR env var.
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		f.noColor = true
	}

	logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	var hostnames []string
	if f.input != "" {
		hostnames, err = readHostnameFile(f.input)
		if err != nil {
			return err
		}
	}

	st, err := store.Open(cfg.Database,
		store.WithLogger(logger),
		store.WithRetry(cfg.Store.Retries, cfg.Store.RetryInitial))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	stageOpts := recon.Options{
		Nameservers:       cfg.DNS.Nameservers,
		DNSTimeout:        cfg.DNS.Timeout,
		EnrichSources:     cfg.Enrich.Sources,
		IPAPIURL:          cfg.Enrich.IPAPIURL,
		IPAPIRate:         cfg.Enrich.IPAPIRate,
		CacheSize:         cfg.Enrich.CacheSize,
		FailureThreshold:  cfg.Enrich.FailureThreshold,
		FailureCooldown:   cfg.Enrich.Cooldown,
		EnrichHTTPTimeout: cfg.Enrich.Timeout,
		Scheme:            cfg.HTTP.Scheme,
		Port:              cfg.HTTP.Port,
		UserAgent:         cfg.HTTP.UserAgent,
		ExcerptSize:       cfg.HTTP.ExcerptSize,
	}
	if f.noEnrich {
		stageOpts.EnrichSources = nil
	}
	rs, err := recon.NewStages(stageOpts)
	if err != nil {
		return err
	}

	// Set up context with signal handling for a clean stop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, draining in-flight work...")
			cancel()
		case <-ctx.Done():
		}
	}()

	patternOpts := patternOptions(cfg)
	order := sweepOrder{Offset: f.offset, Shuffle: cfg.Run.Shuffle, Seed: f.seed}
	if order.Shuffle && !cmd.Flags().Changed("seed") {
		order.Seed = rand.Uint64()
	}
	if f.resume && f.pattern != "" {
		order, err = resumeOrder(ctx, st, f.pattern, patternOpts, sweepOrder{Shuffle: order.Shuffle, Seed: order.Seed})
		if err != nil {
			return err
		}
	}

	showProgress := !f.jsonOutput && !f.silent
	progress := output.NewProgress(os.Stderr, f.verbose, !showProgress)
	if showProgress {
		output.WriteHeader(os.Stderr, f.noColor)
	}

	engineCfg := engine.Config{
		RunID:             uuid.NewString(),
		Pattern:           f.pattern,
		PatternOptions:    patternOpts,
		Offset:            order.Offset,
		Limit:             f.limit,
		Shuffle:           order.Shuffle,
		Seed:              order.Seed,
		Hostnames:         hostnames,
		Concurrency:       cfg.Run.Concurrency,
		VerifyConcurrency: cfg.Run.VerifyConcurrency,
		EnrichConcurrency: cfg.Enrich.Concurrency,
		QueueSize:         cfg.Run.QueueSize,
		StatusPath:        cfg.Run.StatusPath,
		ResolveTimeout:    cfg.DNS.Timeout,
		VerifyTimeout:     cfg.HTTP.Timeout,
		EnrichTimeout:     cfg.Enrich.Timeout,
		SyncTimeout:       cfg.Store.SyncTimeout,
		Logger:            logger,
	}
	stages := engine.Stages{
		Resolver: rs.Resolver,
		Verifier: rs.Prober,
		Store:    st,
	}
	if rs.Enricher != nil {
		stages.Enricher = rs.Enricher
	}

	summary, runErr := engine.Run(ctx, engineCfg, stages, progress)
	if summary == nil {
		return runErr
	}

	if showProgress {
		progress.Complete()
	}

	if f.jsonOutput {
		if err := output.WriteJSON(os.Stdout, summary); err != nil {
			return err
		}
	} else {
		output.WriteSummary(os.Stdout, summary, f.noColor)
	}
	return runErr
}

// applyRunFlags copies explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f *runFlags) {
	changed := cmd.Flags().Changed
	if changed("database") {
		cfg.Database = f.database
	}
	if changed("concurrency") {
		cfg.Run.Concurrency = f.concurrency
	}
	if changed("http-concurrency") {
		cfg.Run.VerifyConcurrency = f.verify
	}
	if changed("queue-size") {
		cfg.Run.QueueSize = f.queueSize
	}
	if changed("status-path") {
		cfg.Run.StatusPath = f.statusPath
	}
	if changed("shuffle") {
		cfg.Run.Shuffle = f.shuffle
	}
	if changed("alphabet") {
		cfg.Run.Alphabet = f.alphabet
	}
	if changed("max-length") {
		cfg.Run.MaxLength = f.maxLength
	}
	if changed("timeout") {
		cfg.DNS.Timeout = f.dnsTimeout
	}
	if changed("nameserver") {
		cfg.DNS.Nameservers = f.nameservers
	}
	if changed("http-timeout") {
		cfg.HTTP.Timeout = f.httpTimeout
	}
	if changed("scheme") {
		cfg.HTTP.Scheme = f.scheme
	}
	if changed("port") {
		cfg.HTTP.Port = f.port
	}
	if changed("enrich") {
		cfg.Enrich.Sources = f.enrich
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if f.verbose && !changed("log-level") && cfg.Log.Level == "info" {
		cfg.Log.Level = "debug"
	}
}

// sweepOrder is where and in which order a pattern sweep starts.
type sweepOrder struct {
	Offset  uint64
	Shuffle bool
	Seed    uint64
}

// resumeOrder continues the previous run of the pattern in the order that
// run used. A pattern never run before, or one whose space was exhausted,
// starts over with fresh.
func resumeOrder(ctx context.Context, st *store.Store, src string, opts pattern.Options, fresh sweepOrder) (sweepOrder, error) {
	p, err := pattern.Compile(src, opts)
	if err != nil {
		return sweepOrder{}, err
	}
	last, err := st.LastRun(ctx, p.ID())
	if errors.Is(err, store.ErrNoRun) {
		return fresh, nil
	}
	if err != nil {
		return sweepOrder{}, err
	}
	if last.NextOffset >= p.Size() {
		return fresh, nil
	}
	return sweepOrder{Offset: last.NextOffset, Shuffle: last.Shuffled, Seed: last.Seed}, nil
}

// patternOptions returns the compile options a sweep and every lookup of its
// runs share, so canonical pattern ids agree.
func patternOptions(cfg *config.Config) pattern.Options {
	return pattern.Options{MaxLength: cfg.Run.MaxLength, Alphabet: cfg.Run.Alphabet}
}

func readHostnameFile(path string) ([]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer fh.Close()
	return engine.ReadHostnames(fh)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
