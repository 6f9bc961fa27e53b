package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vulnverified/tollsweep/internal/pattern"
)

// Config holds the runtime configuration for a probing run.
type Config struct {
	RunID          string
	Pattern        string
	PatternOptions pattern.Options
	// Offset is the ordinal generation starts from; Limit caps the number of
	// pattern candidates emitted (zero means the whole space).
	Offset uint64
	Limit  uint64
	// Shuffle enumerates the pattern in a pseudo-random order fixed by Seed.
	// Offsets then count positions in that order.
	Shuffle bool
	Seed    uint64
	// Hostnames are probed after the pattern candidates.
	Hostnames []string

	Concurrency       int // resolution workers (C)
	VerifyConcurrency int // verification workers (H)
	EnrichConcurrency int
	QueueSize         int

	StatusPath     string
	ResolveTimeout time.Duration
	VerifyTimeout  time.Duration
	EnrichTimeout  time.Duration
	SyncTimeout    time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 2 * c.Concurrency
	}
	if c.EnrichConcurrency <= 0 {
		c.EnrichConcurrency = max(1, c.Concurrency/10)
	}
	if c.StatusPath == "" {
		c.StatusPath = "/"
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 5 * time.Second
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 3 * time.Second
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = 5 * time.Second
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Stages holds the injectable stage implementations. Enricher may be nil,
// in which case records carry no network fields.
type Stages struct {
	Resolver Resolver
	Enricher Enricher
	Verifier Verifier
	Store    Store
}

const totalStages = 3

// Run executes one end-to-end probing run and always returns a summary.
// The returned error is non-nil only when the run ends Aborted.
//
// Cancelling ctx is a cooperative stop: generation halts, queued work is
// skipped, attempts already in flight finish or time out, and the run drains
// to Completed.
func Run(ctx context.Context, cfg Config, stages Stages, progress ProgressReporter) (*RunSummary, error) {
	if cfg.Concurrency < 1 || cfg.VerifyConcurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1 (resolution %d, verification %d)",
			cfg.Concurrency, cfg.VerifyConcurrency)
	}
	if stages.Resolver == nil || stages.Verifier == nil || stages.Store == nil {
		return nil, errors.New("resolver, verifier and store stages are required")
	}
	if progress == nil {
		progress = nopProgress{}
	}
	cfg = cfg.withDefaults()

	r := &run{
		cfg:      cfg,
		stages:   stages,
		progress: progress,
		log:      cfg.Logger.With("run_id", cfg.RunID),
		summary: RunSummary{
			RunID:       cfg.RunID,
			Pattern:     cfg.Pattern,
			State:       Idle,
			StartedAt:   cfg.Now().UTC(),
			StartOffset: cfg.Offset,
		},
	}

	r.transition(Compiling)
	progress.Stage(1, totalStages, "Compiling candidates...")
	src, err := r.sources()
	if err != nil {
		r.fault(err)
		return r.finish(ctx)
	}

	r.transition(Running)
	progress.Stage(2, totalStages, fmt.Sprintf("Probing with %d resolvers and %d verifiers...",
		cfg.Concurrency, cfg.VerifyConcurrency))
	if err := r.pipeline(ctx, src); err != nil {
		r.fault(err)
	}

	r.transition(Draining)
	progress.Stage(3, totalStages, "Draining pending writes...")
	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SyncTimeout)
	defer cancel()
	if err := stages.Store.Sync(syncCtx); err != nil {
		r.fault(fmt.Errorf("%w: sync: %w", ErrStoreUnavailable, err))
	}

	return r.finish(ctx)
}

// run carries the mutable state of one Run invocation.
type run struct {
	cfg      Config
	stages   Stages
	progress ProgressReporter
	log      *slog.Logger

	mu      sync.Mutex
	summary RunSummary
	tracker *offsetTracker

	stop     context.CancelFunc
	faultMu  sync.Mutex
	faultErr error

	generated, resolved, notFound, resolveTimeouts, resolveErrors atomic.Int64
	retries, enriched, enrichFailures                             atomic.Int64
	verified, unreachable, verifyTimeouts, verifyErrors           atomic.Int64
	skipped, storeFailures                                        atomic.Int64
}

func (r *run) transition(to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from := r.summary.State
	if !canTransition(from, to) {
		r.log.Error("invalid state transition", "from", from, "to", to)
		return
	}
	r.summary.State = to
	r.log.Debug("state transition", "from", from, "to", to)
}

// fault records the first unrecoverable error and stops generation.
func (r *run) fault(err error) {
	r.faultMu.Lock()
	first := r.faultErr == nil
	if first {
		r.faultErr = err
	}
	stop := r.stop
	r.faultMu.Unlock()
	if !first {
		return
	}

	r.log.Error("run aborted", "err", err)
	r.progress.Warn(fmt.Sprintf("aborting: %s", err))
	if stop != nil {
		stop()
	}
}

func (r *run) faulted() error {
	r.faultMu.Lock()
	defer r.faultMu.Unlock()
	return r.faultErr
}

// sources compiles the pattern and chains it with any explicit hostnames.
func (r *run) sources() (CandidateSource, error) {
	var chain chainSource

	if r.cfg.Pattern != "" {
		p, err := pattern.Compile(r.cfg.Pattern, r.cfg.PatternOptions)
		if err != nil {
			return nil, err
		}
		var ps *PatternSource
		if r.cfg.Shuffle {
			ps, err = NewShuffledPatternSource(p, r.cfg.Offset, r.cfg.Limit, r.cfg.Seed)
		} else {
			ps, err = NewPatternSource(p, r.cfg.Offset, r.cfg.Limit)
		}
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.summary.Pattern = p.ID()
		r.summary.SpaceSize = p.Size()
		if r.cfg.Shuffle {
			r.summary.Shuffled = true
			r.summary.Seed = r.cfg.Seed
		}
		r.mu.Unlock()
		r.tracker = newOffsetTracker(r.cfg.Offset)
		r.log.Info("pattern compiled", "pattern", p.String(), "space", p.Size(), "offset", r.cfg.Offset,
			"shuffle", r.cfg.Shuffle)
		chain = append(chain, ps)
	}
	if len(r.cfg.Hostnames) > 0 {
		chain = append(chain, NewListSource(r.cfg.Hostnames))
	}
	if len(chain) == 0 {
		return nil, errors.New("no candidates: a pattern or a hostname list is required")
	}
	return &chain, nil
}

// finish settles the terminal state, persists the summary best-effort and
// returns it.
func (r *run) finish(ctx context.Context) (*RunSummary, error) {
	err := r.faulted()
	if err != nil {
		r.transition(Aborted)
	} else {
		r.transition(Completed)
	}

	r.mu.Lock()
	s := &r.summary
	s.CompletedAt = r.cfg.Now().UTC()
	s.DurationSecs = s.CompletedAt.Sub(s.StartedAt).Seconds()
	s.Generated = r.generated.Load()
	s.Resolved = r.resolved.Load()
	s.NotFound = r.notFound.Load()
	s.ResolveTimeouts = r.resolveTimeouts.Load()
	s.ResolveErrors = r.resolveErrors.Load()
	s.Retries = r.retries.Load()
	s.Enriched = r.enriched.Load()
	s.EnrichFailures = r.enrichFailures.Load()
	s.Verified = r.verified.Load()
	s.Unreachable = r.unreachable.Load()
	s.VerifyTimeouts = r.verifyTimeouts.Load()
	s.VerifyErrors = r.verifyErrors.Load()
	s.Skipped = r.skipped.Load()
	s.StoreFailures = r.storeFailures.Load()
	if r.tracker != nil {
		s.NextOffset = r.tracker.resumeOffset()
	}
	if err != nil {
		s.Error = err.Error()
	}
	summary := *s
	r.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SyncTimeout)
	defer cancel()
	if werr := r.stages.Store.WriteRun(writeCtx, summary); werr != nil {
		r.log.Warn("run summary not persisted", "err", werr)
		r.progress.Warn(fmt.Sprintf("run summary not persisted: %s", werr))
	}

	r.log.Info("run finished", "state", summary.State, "generated", summary.Generated,
		"resolved", summary.Resolved, "verified", summary.Verified, "failed", summary.FailedCount())
	return &summary, err
}

type nopProgress struct{}

func (nopProgress) Stage(int, int, string)      {}
func (nopProgress) Resolved(ResolutionRecord)   {}
func (nopProgress) Verified(VerificationRecord) {}
func (nopProgress) Warn(string)                 {}
