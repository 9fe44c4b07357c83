// Package history records report runs in a report_runs table on sqlite or Postgres.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reportsdb/internal/db"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `CREATE TABLE IF NOT EXISTS report_runs (
	id TEXT PRIMARY KEY,
	report TEXT NOT NULL,
	status TEXT NOT NULL,
	formats TEXT NOT NULL,
	row_count BIGINT NOT NULL DEFAULT 0,
	byte_count BIGINT NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	requested_by TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
)`

const indexDDL = `CREATE INDEX IF NOT EXISTS idx_report_runs_report ON report_runs (report, started_at)`

// Run is one report execution.
type Run struct {
	ID          string    `json:"id"`
	Report      string    `json:"report"`
	Status      string    `json:"status"`
	Formats     []string  `json:"formats"`
	Rows        int64     `json:"rows"`
	Bytes       int64     `json:"bytes"`
	Error       string    `json:"error,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Duration is FinishedAt minus StartedAt.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Filter narrows List. Zero values match everything; Limit 0 means no limit.
type Filter struct {
	Report string
	Status string
	Since  time.Time
	Limit  int
}

// Store persists runs.
type Store struct {
	db *db.DB
}

// OpenSQLite opens (creating if needed) a history file.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		path = "reportsdb-history.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	handle, err := db.Open(ctx, db.Config{Driver: db.DialectSQLite, DSN: path, MaxOpenConns: 1}, logger)
	if err != nil {
		return nil, err
	}
	return New(ctx, handle)
}

// OpenPostgres opens a history table in an existing Postgres database.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("history: postgres dsn required")
	}
	handle, err := db.Open(ctx, db.Config{Driver: db.DialectPostgres, DSN: dsn}, logger)
	if err != nil {
		return nil, err
	}
	return New(ctx, handle)
}

// New ensures the report_runs table exists on handle.
func New(ctx context.Context, handle *db.DB) (*Store, error) {
	for _, stmt := range []string{schema, indexDDL} {
		if _, err := handle.SQL().ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure report_runs: %w", err)
		}
	}
	return &Store{db: handle}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts run, or replaces the row with the same ID. An empty ID is assigned.
func (s *Store) Record(ctx context.Context, run Run) (Run, error) {
	if strings.TrimSpace(run.Report) == "" {
		return Run{}, errors.New("history: report required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	query := s.db.Rebind(`INSERT INTO report_runs
		(id, report, status, formats, row_count, byte_count, error, requested_by, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			formats = excluded.formats,
			row_count = excluded.row_count,
			byte_count = excluded.byte_count,
			error = excluded.error,
			finished_at = excluded.finished_at`)
	_, err := s.db.SQL().ExecContext(ctx, query,
		run.ID, run.Report, run.Status, strings.Join(run.Formats, ","),
		run.Rows, run.Bytes, run.Error, run.RequestedBy,
		run.StartedAt.Format(timeLayout), run.FinishedAt.Format(timeLayout))
	if err != nil {
		return Run{}, fmt.Errorf("record run %s: %w", run.Report, err)
	}
	return run, nil
}

// List returns matching runs, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Report != "" {
		where = append(where, "report = "+arg(f.Report))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "started_at >= "+arg(f.Since.UTC().Format(timeLayout)))
	}
	query := `SELECT id, report, status, formats, row_count, byte_count, error, requested_by, started_at, finished_at
		FROM report_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	rows, err := s.db.SQL().QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Last returns the most recent run of report.
func (s *Store) Last(ctx context.Context, report string) (Run, bool, error) {
	runs, err := s.List(ctx, Filter{Report: report, Limit: 1})
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[0], true, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run               Run
		formats           string
		started, finished string
	)
	if err := rows.Scan(&run.ID, &run.Report, &run.Status, &formats, &run.Rows, &run.Bytes,
		&run.Error, &run.RequestedBy, &started, &finished); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if formats != "" {
		run.Formats = strings.Split(formats, ",")
	}
	var err error
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return run, nil
}
