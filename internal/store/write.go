package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/vulnverified/tollsweep/internal/engine"
)

// WriteResolution appends a DNS observation. A second submission of the same
// (hostname, observed_at) pair is ignored.
func (s *Store) WriteResolution(ctx context.Context, rec engine.ResolutionRecord) error {
	success := 0
	if rec.Outcome == engine.Resolved {
		success = 1
	}
	return s.exec(ctx, "write resolution", `
		INSERT INTO dns_results
		(run_id, hostname, ip_address, addresses, asn, as_name, timestamp, outcome, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hostname, timestamp) DO NOTHING
	`,
		rec.RunID,
		rec.Hostname,
		nullString(rec.Address),
		strings.Join(rec.Addresses, ","),
		nullString(rec.NetworkID),
		nullString(rec.NetworkName),
		formatTime(rec.ObservedAt),
		string(rec.Outcome),
		success,
		nullString(rec.Error),
	)
}

// WriteVerification appends an HTTP observation. A second submission of the
// same (hostname, observed_at) pair is ignored.
func (s *Store) WriteVerification(ctx context.Context, rec engine.VerificationRecord) error {
	var status sql.NullInt64
	if rec.Outcome == engine.Checked {
		status = sql.NullInt64{Int64: int64(rec.StatusCode), Valid: true}
	}
	return s.exec(ctx, "write verification", `
		INSERT INTO status
		(run_id, hostname, path, address, status_code, response, timestamp, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hostname, timestamp) DO NOTHING
	`,
		rec.RunID,
		rec.Hostname,
		rec.Path,
		nullString(rec.Address),
		status,
		nullString(rec.Excerpt),
		formatTime(rec.ObservedAt),
		string(rec.Outcome),
		nullString(rec.Error),
	)
}

// WriteRun records a run summary, replacing an earlier summary for the
// same run.
func (s *Store) WriteRun(ctx context.Context, sum engine.RunSummary) error {
	blob, err := json.Marshal(sum)
	if err != nil {
		return &Error{Op: "write run", Err: err}
	}
	var completed any
	if !sum.CompletedAt.IsZero() {
		completed = formatTime(sum.CompletedAt)
	}
	return s.exec(ctx, "write run", `
		INSERT INTO runs (run_id, pattern, state, started_at, completed_at, next_offset, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			completed_at = excluded.completed_at,
			next_offset = excluded.next_offset,
			summary = excluded.summary
	`,
		sum.RunID,
		sum.Pattern,
		sum.State.String(),
		formatTime(sum.StartedAt),
		completed,
		int64(sum.NextOffset),
		string(blob),
	)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
