// Package store persists tollsweep observations in SQLite. The layout keeps
// the dns_results and status tables read by the reporting scripts.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - tables as created by the first collector (no run_id, outcome, addresses)
// 1 - outcome columns, per-observation unique keys, http_results view
const currentSchemaVersion = 1

// TimeLayout is the UTC timestamp format of every stored time. It sorts
// lexically and is understood by SQLite's datetime() functions.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Error is a persistence failure that survived the retry policy.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store is the SQLite result store. It is safe for concurrent use; writes
// are serialized internally.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	writeMu      sync.Mutex
	maxRetries   uint64
	retryInitial time.Duration
	retryMax     time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetry sets how often a failed write is retried and the first backoff
// interval. Zero retries disables retrying.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		if initial > 0 {
			s.retryInitial = initial
		}
	}
}

// Open creates or opens the database at path, applying pragmas and schema
// migrations. It is safe to call on an existing database.
//
// The database is configured with:
//   - WAL mode so the reporting scripts can read during a run
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:           db,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxRetries:   4,
		retryInitial: 50 * time.Millisecond,
		retryMax:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var result *multierror.Error
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		result = multierror.Append(result, fmt.Errorf("checkpoint: %w", err))
	}
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close: %w", err))
	}
	return result.ErrorOrNil()
}

// Sync makes every acknowledged write durable by checkpointing the WAL into
// the main database file.
func (s *Store) Sync(ctx context.Context) error {
	return s.exec(ctx, "sync", "PRAGMA wal_checkpoint(FULL)")
}

// exec runs a write statement under the store's write lock, retrying
// transient failures with exponential backoff.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInitial
	policy.MaxInterval = s.retryMax
	policy.MaxElapsedTime = 0

	attempt := func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, query, args...)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("store write failed, retrying", "op", op, "err", err, "wait", wait)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx)
	if err := backoff.RetryNotify(attempt, b, notify); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// transient reports whether a failed write may succeed when repeated.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrFull:
			return true
		}
		return false
	}
	return !errors.Is(err, sql.ErrConnDone)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// v1Columns are the columns databases written by the first collector lack.
var v1Columns = map[string][]struct{ name, def string }{
	"dns_results": {
		{"run_id", "TEXT NOT NULL DEFAULT ''"},
		{"addresses", "TEXT NOT NULL DEFAULT ''"},
		{"outcome", "TEXT NOT NULL DEFAULT ''"},
		{"success", "INTEGER NOT NULL DEFAULT 0"},
		{"error", "TEXT"},
	},
	"status": {
		{"run_id", "TEXT NOT NULL DEFAULT ''"},
		{"address", "TEXT"},
		{"outcome", "TEXT NOT NULL DEFAULT ''"},
		{"error", "TEXT"},
	},
}

// migrateToV1 upgrades legacy tables in place and adds the uniqueness
// constraints that make resubmitted observations no-ops.
func migrateToV1(db *sql.DB) error {
	for _, table := range []string{"dns_results", "status"} {
		existing, err := tableColumns(db, table)
		if err != nil {
			return err
		}
		for _, col := range v1Columns[table] {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.def)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v1: %w", err)
			}
		}
	}

	for _, table := range []string{"dns_results", "status"} {
		if err := normalizeTimestamps(db, table); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		// Identical samples collapse so the unique key can be built.
		dedupe := fmt.Sprintf(`DELETE FROM %[1]s WHERE id NOT IN (
			SELECT MIN(id) FROM %[1]s GROUP BY hostname, timestamp)`, table)
		if _, err := db.Exec(dedupe); err != nil {
			return fmt.Errorf("migrate to v1: dedupe %s: %w", table, err)
		}
	}

	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_dns_results_observation ON dns_results(hostname, timestamp);
		CREATE INDEX IF NOT EXISTS idx_dns_results_timestamp ON dns_results(timestamp);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_status_observation ON status(hostname, timestamp);
		CREATE VIEW IF NOT EXISTS http_results AS
			SELECT id, run_id, hostname, path, address, status_code, response, timestamp, outcome, error
			FROM status;
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// normalizeTimestamps rewrites timestamps written in other layouts, such as
// the RFC 3339 text of the first collector, into TimeLayout. Range queries
// compare the column as text and rely on a single layout.
func normalizeTimestamps(db *sql.DB, table string) error {
	fixes, err := timestampFixes(db, table)
	if err != nil {
		return err
	}
	if len(fixes) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("normalize %s timestamps: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf("UPDATE %s SET timestamp = ? WHERE id = ?", table))
	if err != nil {
		return fmt.Errorf("normalize %s timestamps: %w", table, err)
	}
	defer stmt.Close()
	for id, ts := range fixes {
		if _, err := stmt.Exec(ts, id); err != nil {
			return fmt.Errorf("normalize %s timestamps: %w", table, err)
		}
	}
	return tx.Commit()
}

// timestampFixes maps row ids to the normalized form of timestamps not yet in
// TimeLayout. Unparseable values are left alone.
func timestampFixes(db *sql.DB, table string) (map[int64]string, error) {
	rows, err := db.Query(fmt.Sprintf(
		"SELECT id, CAST(timestamp AS TEXT) FROM %s WHERE timestamp IS NOT NULL", table))
	if err != nil {
		return nil, fmt.Errorf("scan %s timestamps: %w", table, err)
	}
	defer rows.Close()

	fixes := make(map[int64]string)
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s timestamps: %w", table, err)
		}
		t, err := parseTime(raw)
		if err != nil {
			continue
		}
		if norm := formatTime(t); norm != raw {
			fixes[id] = norm
		}
	}
	return fixes, rows.Err()
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("table info %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
