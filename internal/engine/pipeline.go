package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// gate orders a hostname's verification record after its resolution
// record: the enrichment stage opens it once the resolution record has been
// persisted (ok) or has failed to persist (!ok).
type gate struct {
	done chan struct{}
	ok   bool
}

func newGate() *gate { return &gate{done: make(chan struct{})} }

func (g *gate) open(ok bool) {
	g.ok = ok
	close(g.done)
}

type enrichJob struct {
	cand Candidate
	rec  ResolutionRecord
	gate *gate
}

type verifyJob struct {
	cand    Candidate
	address string
	gate    *gate
}

// pipeline runs the generator and the three worker pools until the
// candidate source is exhausted (or generation is stopped) and every queue
// has drained. It returns the first store fault any worker hit; workers keep
// draining their queues after a fault so no upstream stage blocks.
//
//	generator -> candidates -> C resolvers -+-> enrichQ -> E enrichers -> store
//	                                         +-> verifyQ -> H verifiers -> store
func (r *run) pipeline(ctx context.Context, src CandidateSource) error {
	genCtx, stop := context.WithCancel(ctx)
	defer stop()
	r.faultMu.Lock()
	r.stop = stop
	r.faultMu.Unlock()

	// Attempts already started are never interrupted by a stop signal; their
	// own timeouts bound them.
	work := context.WithoutCancel(ctx)

	candidates := make(chan Candidate, r.cfg.QueueSize)
	enrichQ := make(chan enrichJob, r.cfg.QueueSize)
	verifyQ := make(chan verifyJob, r.cfg.QueueSize)

	var g errgroup.Group
	g.Go(func() error {
		r.generate(genCtx, src, candidates)
		return nil
	})

	var resolvers errgroup.Group
	for i := 0; i < r.cfg.Concurrency; i++ {
		resolvers.Go(func() error {
			return r.resolveLoop(work, genCtx, candidates, enrichQ, verifyQ)
		})
	}
	g.Go(func() error {
		err := resolvers.Wait()
		close(enrichQ)
		close(verifyQ)
		return err
	})

	for i := 0; i < r.cfg.EnrichConcurrency; i++ {
		g.Go(func() error {
			return r.enrichLoop(work, enrichQ)
		})
	}
	for i := 0; i < r.cfg.VerifyConcurrency; i++ {
		g.Go(func() error {
			return r.verifyLoop(work, genCtx, verifyQ)
		})
	}

	return g.Wait()
}

func stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *run) generate(ctx context.Context, src CandidateSource, out chan<- Candidate) {
	defer close(out)
	for {
		if stopped(ctx) {
			return
		}
		c, ok := src.Next()
		if !ok {
			return
		}
		if c.PatternID != "" && r.tracker != nil {
			r.tracker.start(c.Ordinal)
		}
		select {
		case <-ctx.Done():
			return
		case out <- c:
			r.generated.Add(1)
		}
	}
}

func (r *run) complete(c Candidate) {
	if c.PatternID != "" && r.tracker != nil {
		r.tracker.done(c.Ordinal)
	}
}

func (r *run) resolveLoop(work, gen context.Context, in <-chan Candidate, enrichQ chan<- enrichJob, verifyQ chan<- verifyJob) error {
	var fault error
	for c := range in {
		if stopped(gen) {
			r.skipped.Add(1)
			continue
		}

		rec := r.resolve(work, c)
		switch rec.Outcome {
		case Resolved:
			r.resolved.Add(1)
		case NotFound:
			r.notFound.Add(1)
		case Timeout:
			r.resolveTimeouts.Add(1)
		default:
			r.resolveErrors.Add(1)
		}

		if rec.Outcome != Resolved {
			if err := r.persistResolution(work, rec); err != nil {
				if fault == nil {
					fault = err
				}
			} else {
				r.complete(c)
			}
			continue
		}

		r.progress.Resolved(rec)
		g := newGate()
		enrichQ <- enrichJob{cand: c, rec: rec, gate: g}
		verifyQ <- verifyJob{cand: c, address: rec.Address, gate: g}
	}
	return fault
}

// resolve performs one attempt plus a single retry on timeouts and errors.
// NotFound is authoritative and never retried.
func (r *run) resolve(ctx context.Context, c Candidate) ResolutionRecord {
	observed := r.now()
	addrs, err := r.lookup(ctx, c.Hostname)
	outcome := ClassifyResolution(err)
	if retryable(outcome) {
		r.retries.Add(1)
		r.log.Debug("retrying resolution", "host", c.Hostname, "outcome", outcome, "err", err)
		observed = r.now()
		addrs, err = r.lookup(ctx, c.Hostname)
		outcome = ClassifyResolution(err)
	}
	if outcome == Resolved && len(addrs) == 0 {
		outcome = NotFound
	}

	rec := ResolutionRecord{
		RunID:      r.cfg.RunID,
		Hostname:   c.Hostname,
		ObservedAt: observed,
		Outcome:    outcome,
	}
	if outcome == Resolved {
		rec.Addresses = addrs
		rec.Address = addrs[0]
	} else if err != nil {
		rec.Error = err.Error()
	}
	r.log.Debug("resolved", "host", c.Hostname, "outcome", outcome, "addresses", len(addrs))
	return rec
}

func (r *run) lookup(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ResolveTimeout)
	defer cancel()
	return r.stages.Resolver.Resolve(ctx, host)
}

func (r *run) enrichLoop(work context.Context, in <-chan enrichJob) error {
	var fault error
	for job := range in {
		rec := job.rec
		if r.stages.Enricher != nil {
			ctx, cancel := context.WithTimeout(work, r.cfg.EnrichTimeout)
			network, err := r.stages.Enricher.Enrich(ctx, rec.Address)
			cancel()
			if err != nil {
				r.enrichFailures.Add(1)
				r.log.Debug("enrichment failed", "host", rec.Hostname, "addr", rec.Address, "err", err)
			} else {
				r.enriched.Add(1)
				rec.NetworkID = network.ID
				rec.NetworkName = network.Name
			}
		}
		err := r.persistResolution(work, rec)
		if err != nil && fault == nil {
			fault = err
		}
		job.gate.open(err == nil)
	}
	return fault
}

func (r *run) verifyLoop(work, gen context.Context, in <-chan verifyJob) error {
	var fault error
	for job := range in {
		if stopped(gen) {
			r.skipped.Add(1)
			continue
		}

		rec := r.verify(work, job)
		switch rec.Outcome {
		case Checked:
			r.verified.Add(1)
			r.progress.Verified(rec)
		case Unreachable:
			r.unreachable.Add(1)
		case Timeout:
			r.verifyTimeouts.Add(1)
		default:
			r.verifyErrors.Add(1)
		}

		<-job.gate.done
		if !job.gate.ok {
			// Without a persisted resolution record the verification must
			// not be stored either.
			continue
		}
		if err := r.persistVerification(work, rec); err != nil {
			if fault == nil {
				fault = err
			}
		} else {
			r.complete(job.cand)
		}
	}
	return fault
}

func (r *run) verify(ctx context.Context, job verifyJob) VerificationRecord {
	observed := r.now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.VerifyTimeout)
	defer cancel()

	probe, err := r.stages.Verifier.Verify(ctx, job.cand.Hostname, job.address, r.cfg.StatusPath)
	rec := VerificationRecord{
		RunID:      r.cfg.RunID,
		Hostname:   job.cand.Hostname,
		Path:       r.cfg.StatusPath,
		Address:    job.address,
		ObservedAt: observed,
		Outcome:    ClassifyVerification(err),
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.StatusCode = probe.StatusCode
		rec.Excerpt = probe.Excerpt
	}
	r.log.Debug("verified", "host", rec.Hostname, "outcome", rec.Outcome, "status", rec.StatusCode)
	return rec
}

// persistResolution writes rec. A failure stops generation at once and is
// returned to the worker as a fault.
func (r *run) persistResolution(ctx context.Context, rec ResolutionRecord) error {
	if err := r.stages.Store.WriteResolution(ctx, rec); err != nil {
		r.storeFailures.Add(1)
		err = fmt.Errorf("%w: persist resolution of %s: %w", ErrStoreUnavailable, rec.Hostname, err)
		r.fault(err)
		return err
	}
	return nil
}

func (r *run) persistVerification(ctx context.Context, rec VerificationRecord) error {
	if err := r.stages.Store.WriteVerification(ctx, rec); err != nil {
		r.storeFailures.Add(1)
		err = fmt.Errorf("%w: persist verification of %s: %w", ErrStoreUnavailable, rec.Hostname, err)
		r.fault(err)
		return err
	}
	return nil
}

// now returns a UTC timestamp at the store's microsecond precision, so a
// record resubmitted after a crash carries an identical key.
func (r *run) now() time.Time {
	return r.cfg.Now().UTC().Truncate(time.Microsecond)
}
