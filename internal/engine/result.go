// Package engine orchestrates the tollsweep probing pipeline: candidate
// generation, DNS resolution, network enrichment, HTTP verification and
// persistence of every observation.
package engine

import (
	"context"
	"time"
)

// Outcome classifies a single resolution or verification attempt.
type Outcome string

const (
	// Resolved means the hostname returned at least one address.
	Resolved Outcome = "resolved"
	// NotFound is an authoritative negative answer (NXDOMAIN or no addresses).
	NotFound Outcome = "not_found"
	// Checked means the HTTP probe received a response.
	Checked Outcome = "checked"
	// Unreachable means the HTTP probe could not connect.
	Unreachable Outcome = "unreachable"
	// Timeout means the attempt ran out of its time budget.
	Timeout Outcome = "timeout"
	// Failed covers every other error.
	Failed Outcome = "error"
)

// Candidate is one concrete hostname to probe.
type Candidate struct {
	Hostname  string `json:"hostname"`
	PatternID string `json:"pattern_id,omitempty"`
	// Ordinal is the candidate's position in the run's enumeration order,
	// which is the pattern index unless the run is shuffled. Only meaningful
	// when PatternID is set.
	Ordinal uint64 `json:"ordinal"`
}

// ResolutionRecord is one DNS observation of a hostname.
type ResolutionRecord struct {
	RunID       string    `json:"run_id"`
	Hostname    string    `json:"hostname"`
	Address     string    `json:"address,omitempty"`
	Addresses   []string  `json:"addresses,omitempty"`
	NetworkID   string    `json:"network_id,omitempty"`
	NetworkName string    `json:"network_name,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
}

// VerificationRecord is one HTTP observation of a resolved hostname.
type VerificationRecord struct {
	RunID      string    `json:"run_id"`
	Hostname   string    `json:"hostname"`
	Path       string    `json:"path"`
	Address    string    `json:"address,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Excerpt    string    `json:"excerpt,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// Network identifies the network that originates an address.
type Network struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	// Prefix is the announced CIDR containing the address, when known.
	Prefix string `json:"prefix,omitempty"`
}

// Probe is the raw result of an HTTP status probe.
type Probe struct {
	StatusCode int
	Excerpt    string
}

// RunSummary aggregates the counts of one run. It is produced exactly once
// per invocation, including aborted runs.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Pattern      string    `json:"pattern,omitempty"`
	State        State     `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationSecs float64   `json:"duration_secs"`
	SpaceSize    uint64    `json:"space_size"`
	StartOffset  uint64    `json:"start_offset"`
	NextOffset   uint64    `json:"next_offset"`
	Shuffled     bool      `json:"shuffled,omitempty"`
	Seed         uint64    `json:"seed,omitempty"`

	Generated       int64 `json:"generated"`
	Resolved        int64 `json:"resolved"`
	NotFound        int64 `json:"not_found"`
	ResolveTimeouts int64 `json:"resolve_timeouts"`
	ResolveErrors   int64 `json:"resolve_errors"`
	Retries         int64 `json:"retries"`
	Enriched        int64 `json:"enriched"`
	EnrichFailures  int64 `json:"enrich_failures"`
	Verified        int64 `json:"verified"`
	Unreachable     int64 `json:"unreachable"`
	VerifyTimeouts  int64 `json:"verify_timeouts"`
	VerifyErrors    int64 `json:"verify_errors"`
	Skipped         int64 `json:"skipped"`
	StoreFailures   int64 `json:"store_failures"`

	Error string `json:"error,omitempty"`
}

// FailedCount is the number of attempts that ended in a timeout or error.
func (s RunSummary) FailedCount() int64 {
	return s.ResolveTimeouts + s.ResolveErrors + s.Unreachable + s.VerifyTimeouts + s.VerifyErrors
}

// Resolver resolves a hostname to its addresses. Implementations should
// return errors that ClassifyResolution understands.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]string, error)
}

// Enricher maps an address to its originating network.
type Enricher interface {
	Enrich(ctx context.Context, addr string) (Network, error)
}

// Verifier issues an HTTP status probe to host at addr.
type Verifier interface {
	Verify(ctx context.Context, host, addr, path string) (Probe, error)
}

// Store persists observations. Implementations must be safe for concurrent
// use and must ignore duplicate (hostname, observed_at) submissions.
type Store interface {
	WriteResolution(ctx context.Context, rec ResolutionRecord) error
	WriteVerification(ctx context.Context, rec VerificationRecord) error
	WriteRun(ctx context.Context, sum RunSummary) error
	// Sync returns once every acknowledged write is durable.
	Sync(ctx context.Context) error
}

// ProgressReporter is called by the engine to report stage progress.
type ProgressReporter interface {
	Stage(num, total int, msg string)
	Resolved(rec ResolutionRecord)
	Verified(rec VerificationRecord)
	Warn(msg string)
}
