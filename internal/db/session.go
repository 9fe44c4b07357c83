package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"reportsdb/pkg/reportapi"
)

var (
	placeholder = regexp.MustCompile(`\$(\d+)`)
	identifier  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ErrSessionClosed is returned by calls on a closed session.
var ErrSessionClosed = errors.New("db: session closed")

// Session is a pinned connection. Temporary tables staged through it are
// dropped on Close.
type Session struct {
	conn   *sql.Conn
	db     *DB
	temps  []string
	closed bool
}

var _ reportapi.Session = (*Session)(nil)

// Query runs a statement and buffers every row.
func (s *Session) Query(ctx context.Context, query string, args ...any) ([]reportapi.Row, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	started := time.Now()
	rows, err := s.conn.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		s.db.traceStatement(query, started, 0, err)
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out, err := scanRows(rows)
	s.db.traceStatement(query, started, int64(len(out)), err)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

// Exec runs a statement that returns no rows and reports rows affected.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	started := time.Now()
	res, err := s.conn.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		s.db.traceStatement(query, started, 0, err)
		return 0, fmt.Errorf("exec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	s.db.traceStatement(query, started, affected, nil)
	return affected, nil
}

// Batch runs statements in order and returns one result set per statement.
// Statements that produce no rows yield an empty set.
func (s *Session) Batch(ctx context.Context, statements []string) ([][]reportapi.Row, error) {
	results := make([][]reportapi.Row, 0, len(statements))
	for i, stmt := range statements {
		rows, err := s.Query(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("batch statement %d: %w", i, err)
		}
		results = append(results, rows)
	}
	return results, nil
}

// TempTable materializes query into a temporary table.
func (s *Session) TempTable(ctx context.Context, name, query string, args ...any) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("db: invalid temp table name %q", name)
	}
	if _, err := s.Exec(ctx, "CREATE TEMPORARY TABLE "+name+" AS "+query, args...); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	s.temps = append(s.temps, name)
	return nil
}

// Index adds a single-column index, typically on a staged table.
func (s *Session) Index(ctx context.Context, table, column string) error {
	if !identifier.MatchString(table) || !identifier.MatchString(column) {
		return fmt.Errorf("db: invalid index target %s(%s)", table, column)
	}
	stmt := fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)",
		strings.ToLower(table), strings.ToLower(strings.TrimPrefix(column, "_")), table, column)
	if _, err := s.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("index %s(%s): %w", table, column, err)
	}
	return nil
}

// Close drops staged tables and returns the connection to the pool.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.temps) - 1; i >= 0; i-- {
		if _, err := s.conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+s.temps[i]); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", s.temps[i], err))
		}
	}
	s.temps = nil
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func scanRows(rows *sql.Rows) ([]reportapi.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(cols))
	for i, c := range cols {
		keys[i] = strings.ToLower(c)
	}
	var out []reportapi.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(reportapi.Row, len(cols))
		for i, key := range keys {
			row[key] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// SplitStatements splits a semicolon-terminated script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(script string) []string {
	var stmts []string
	var current strings.Builder
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			stmts = append(stmts, strings.TrimSuffix(stmt, ";"))
		}
		current.Reset()
	}
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
