package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"reportsdb/internal/adapters/exports"
	"reportsdb/internal/blob"
	"reportsdb/internal/config"
	"reportsdb/internal/db"
	"reportsdb/internal/history"
	"reportsdb/internal/observability"
	"reportsdb/internal/reports"
	"reportsdb/pkg/reportapi"
)

// runtime holds the opened database, sinks and observability for one command.
type runtime struct {
	db       *db.DB
	catalog  *reports.Catalog
	store    blob.Store
	history  *history.Store
	recorder *observability.Recorder
	exporter *exports.Exporter
	closers  []func() error
}

func (a *app) openRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{recorder: observability.NewRecorder()}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	catalog, err := reports.NewDefaultCatalog(a.cfg.Reports.Exclude...)
	if err != nil {
		return nil, err
	}
	rt.catalog = catalog

	dbc := a.cfg.Database
	rt.db, err = db.Open(ctx, db.Config{
		Driver:       dbc.Driver,
		Server:       dbc.Server,
		Port:         dbc.Port,
		Name:         dbc.Name,
		User:         dbc.User,
		PasswordFile: dbc.PasswordFile,
		SSLMode:      dbc.SSLMode,
		DSN:          dbc.DSN,
		Trace:        dbc.Trace,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.db.Close)
	if err := catalog.Bind(reportapi.Environment{DB: rt.db, Logger: a.logger}); err != nil {
		return nil, err
	}

	rt.store, err = openStore(ctx, a.cfg.Output)
	if err != nil {
		return nil, err
	}

	rt.history, err = openHistory(ctx, a.cfg.History, a.logger)
	if err != nil {
		return nil, err
	}
	opts := []exports.Option{
		exports.WithLogger(a.logger),
		exports.WithMetrics(rt.recorder),
		exports.WithAudit(exports.ZapAuditLog{Logger: a.logger.Named("audit")}),
		exports.WithCompression(a.cfg.Output.Compress),
		exports.WithPrefix(a.cfg.Output.Prefix),
	}
	if rt.history != nil {
		rt.closers = append(rt.closers, rt.history.Close)
		opts = append(opts, exports.WithHistory(rt.history))
	}
	if path := a.cfg.Metrics.TraceFile; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		rt.closers = append(rt.closers, f.Close)
		opts = append(opts, exports.WithTracer(observability.NewJSONTracer(f)))
	}
	rt.exporter = exports.NewExporter(catalog, rt.db, rt.store, opts...)
	ok = true
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// flushMetrics writes the textfile when one is configured.
func (a *app) flushMetrics(rec *observability.Recorder) {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		a.logger.Warn("create metrics dir", zap.Error(err))
		return
	}
	if err := rec.WriteTextfile(path); err != nil {
		a.logger.Warn("write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

func openStore(ctx context.Context, out config.OutputConfig) (blob.Store, error) {
	return blob.Open(ctx, blob.Options{
		Driver: out.Driver,
		Dir:    out.Dir,
		S3: blob.S3Config{
			Bucket:    out.S3.Bucket,
			Region:    out.S3.Region,
			Endpoint:  out.S3.Endpoint,
			PathStyle: out.S3.PathStyle,
		},
	})
}

func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (*history.Store, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		return history.OpenSQLite(ctx, cfg.Path, logger)
	case "postgres":
		return history.OpenPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
