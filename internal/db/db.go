// Package db opens the MGD report source and hands out pinned sessions.
// Postgres is reached through pgx's database/sql driver; sqlite backs local
// fixtures and offline runs.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"reportsdb/internal/logging"
	"reportsdb/pkg/reportapi"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var _ reportapi.Database = (*DB)(nil)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Config describes an MGD connection using the MGD_DB* vocabulary.
type Config struct {
	Driver       string // postgres|sqlite
	Server       string
	Port         int
	Name         string
	User         string
	PasswordFile string
	SSLMode      string
	DSN          string // explicit DSN, or the sqlite file path
	Trace        bool
	MaxOpenConns int
}

// ConnString returns the DSN handed to database/sql.
func (c Config) ConnString() (string, error) {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN, nil
	}
	if c.Driver == DialectSQLite {
		return "", errors.New("db: sqlite requires an explicit DSN")
	}
	host := c.Server
	if host == "" {
		host = "localhost"
	}
	if c.Port > 0 {
		host += ":" + strconv.Itoa(c.Port)
	}
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + c.Name}
	if c.User != "" {
		password, err := readPassword(c.PasswordFile)
		if err != nil {
			return "", err
		}
		if password != "" {
			u.User = url.UserPassword(c.User, password)
		} else {
			u.User = url.User(c.User)
		}
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	return u.String(), nil
}

func readPassword(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("db: read password file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// DB wraps a database/sql handle with dialect awareness.
type DB struct {
	sql     *sql.DB
	dialect string
	trace   bool
	logger  *zap.Logger
}

// Open connects and pings the configured database.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	dialect := cfg.Driver
	if dialect == "" {
		dialect = DialectPostgres
	}
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
	dsn, err := cfg.ConnString()
	if err != nil {
		return nil, err
	}
	openMu.Lock()
	handle, err := sqlOpen(driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if cfg.MaxOpenConns > 0 {
		handle.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &DB{sql: handle, dialect: dialect, trace: cfg.Trace, logger: logging.OrNop(logger)}, nil
}

// Wrap adopts an existing handle.
func Wrap(handle *sql.DB, dialect string, logger *zap.Logger) *DB {
	return &DB{sql: handle, dialect: dialect, logger: logging.OrNop(logger)}
}

// Dialect reports postgres or sqlite.
func (d *DB) Dialect() string { return d.dialect }

// SQL exposes the underlying handle.
func (d *DB) SQL() *sql.DB { return d.sql }

// SetTrace toggles statement logging.
func (d *DB) SetTrace(on bool) { d.trace = on }

func (d *DB) Close() error { return d.sql.Close() }

// Session pins a connection from the pool.
func (d *DB) Session(ctx context.Context) (reportapi.Session, error) {
	conn, err := d.sql.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: acquire connection: %w", err)
	}
	return &Session{conn: conn, db: d}, nil
}

// ExecScript runs a semicolon separated script statement by statement.
func (d *DB) ExecScript(ctx context.Context, script string) error {
	for _, stmt := range SplitStatements(script) {
		if _, err := d.sql.ExecContext(ctx, d.Rebind(stmt)); err != nil {
			return fmt.Errorf("execute script: %w", err)
		}
	}
	return nil
}

// Rebind rewrites $N placeholders for the sqlite dialect.
func (d *DB) Rebind(query string) string {
	if d.dialect == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func (d *DB) traceStatement(query string, started time.Time, rows int64, err error) {
	if !d.trace {
		return
	}
	fields := []zap.Field{
		zap.String("statement", compact(query)),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int64("rows", rows),
	}
	if err != nil {
		d.logger.Warn("sql statement failed", append(fields, zap.Error(err))...)
		return
	}
	d.logger.Info("sql statement", fields...)
}

func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
