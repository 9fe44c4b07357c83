// Package dbtest provides a seeded sqlite copy of the MGD tables the reports read.
package dbtest

import (
	"context"
	_ "embed"
	"path/filepath"
	"testing"

	"reportsdb/internal/db"
)

// Schema creates the fixture tables.
//
//go:embed schema.sql
var Schema string

// Seed loads the fixture rows.
//
//go:embed seed.sql
var Seed string

// Open creates a fresh fixture database in a temp directory. It is closed
// when the test finishes.
func Open(tb testing.TB) *db.DB {
	tb.Helper()
	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "mgd.db")
	handle, err := db.Open(ctx, db.Config{Driver: db.DialectSQLite, DSN: path}, nil)
	if err != nil {
		tb.Fatalf("open fixture: %v", err)
	}
	tb.Cleanup(func() { _ = handle.Close() })
	if err := handle.ExecScript(ctx, Schema); err != nil {
		tb.Fatalf("apply schema: %v", err)
	}
	if err := handle.ExecScript(ctx, Seed); err != nil {
		tb.Fatalf("apply seed: %v", err)
	}
	return handle
}
