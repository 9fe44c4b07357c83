package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportsdb/internal/adapters/exports"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report catalog, on-demand runs and exports over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

// serve runs until ctx is cancelled, then drains the HTTP server and export queue.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = rt.Close() }()

	worker := exports.NewWorker(rt.exporter, a.cfg.Server.Workers, a.cfg.Server.QueueSize)
	worker.Start()

	srv := &http.Server{
		Handler:           newServeMux(rt, worker, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	a.logger.Info("serving", zap.String("addr", ln.Addr().String()))

	select {
	case err = <-errc:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
		<-errc
		if stopErr := worker.Stop(shutdownCtx); err == nil {
			err = stopErr
		}
		a.flushMetrics(rt.recorder)
		return err
	}
	_ = worker.Stop(context.Background())
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newServeMux(rt *runtime, worker *exports.Worker, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", exports.NewHandler(rt.catalog, rt.db, worker, logger))
	mux.Handle("/metrics", rt.recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.db.SQL().PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
