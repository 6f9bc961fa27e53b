package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vulnverified/tollsweep/internal/engine"
)

// ErrNoRun is returned when no run matches a lookup.
var ErrNoRun = errors.New("no matching run")

// readLayout also accepts rows written with whole-second timestamps.
const readLayout = "2006-01-02 15:04:05.999999"

// ResolutionsSince returns every DNS observation at or after since, oldest
// first.
func (s *Store) ResolutionsSince(ctx context.Context, since time.Time) ([]engine.ResolutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, hostname, ip_address, addresses, asn, as_name, timestamp, outcome, success, error
		FROM dns_results
		WHERE timestamp >= ?
		ORDER BY timestamp, hostname
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query resolutions: %w", err)
	}
	defer rows.Close()

	var out []engine.ResolutionRecord
	for rows.Next() {
		var (
			rec                     engine.ResolutionRecord
			addr, asn, asName, errs sql.NullString
			addresses, ts, outcome  string
			success                 sql.NullBool
		)
		if err := rows.Scan(&rec.RunID, &rec.Hostname, &addr, &addresses, &asn, &asName, &ts, &outcome, &success, &errs); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		rec.Address = addr.String
		if addresses != "" {
			rec.Addresses = strings.Split(addresses, ",")
		}
		rec.NetworkID = asn.String
		rec.NetworkName = asName.String
		rec.Error = errs.String
		rec.Outcome = engine.Outcome(outcome)
		if rec.Outcome == "" {
			rec.Outcome = legacyOutcome(success.Bool)
		}
		if rec.ObservedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// VerificationsByPrefix returns every HTTP observation whose hostname starts
// with prefix, newest first.
func (s *Store) VerificationsByPrefix(ctx context.Context, prefix string) ([]engine.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, hostname, path, address, status_code, response, timestamp, outcome, error
		FROM status
		WHERE hostname LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC, hostname
	`, escapeLike(strings.ToLower(prefix))+"%")
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var out []engine.VerificationRecord
	for rows.Next() {
		var (
			rec              engine.VerificationRecord
			addr, resp, errs sql.NullString
			status           sql.NullInt64
			ts, outcome      string
		)
		if err := rows.Scan(&rec.RunID, &rec.Hostname, &rec.Path, &addr, &status, &resp, &ts, &outcome, &errs); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		rec.Address = addr.String
		rec.StatusCode = int(status.Int64)
		rec.Excerpt = resp.String
		rec.Error = errs.String
		rec.Outcome = engine.Outcome(outcome)
		if rec.Outcome == "" {
			rec.Outcome = engine.Checked
		}
		if rec.ObservedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountResolved returns the number of distinct hostnames that resolved in
// [from, to). A zero to means no upper bound.
func (s *Store) CountResolved(ctx context.Context, from, to time.Time) (int64, error) {
	query := `SELECT COUNT(DISTINCT hostname) FROM dns_results WHERE success = 1 AND timestamp >= ?`
	args := []any{formatTime(from)}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, formatTime(to))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count resolved: %w", err)
	}
	return n, nil
}

// Runs returns up to limit run summaries, newest first. A non-empty pattern
// restricts the result to runs of that pattern.
func (s *Store) Runs(ctx context.Context, pattern string, limit int) ([]engine.RunSummary, error) {
	query := `SELECT summary FROM runs`
	var args []any
	if pattern != "" {
		query += ` WHERE pattern = ?`
		args = append(args, pattern)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []engine.RunSummary
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var sum engine.RunSummary
		if err := json.Unmarshal([]byte(blob), &sum); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run of pattern.
func (s *Store) LastRun(ctx context.Context, pattern string) (engine.RunSummary, error) {
	runs, err := s.Runs(ctx, pattern, 1)
	if err != nil {
		return engine.RunSummary{}, err
	}
	if len(runs) == 0 {
		return engine.RunSummary{}, fmt.Errorf("%w for %q", ErrNoRun, pattern)
	}
	return runs[0], nil
}

// timeLayouts are the timestamp forms found in stored rows: TimeLayout, the
// RFC 3339 text of the first collector and of the driver's rendering of
// DATETIME columns, and zone-less variants of both.
var timeLayouts = []string{
	readLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
}

// parseTime parses a stored timestamp into UTC. Zone-less values are UTC.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unrecognized layout", s)
}

func legacyOutcome(success bool) engine.Outcome {
	if success {
		return engine.Resolved
	}
	return engine.NotFound
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
