// Command reportsdb generates the MGI public reports from the MGD database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportsdb/internal/config"
	"reportsdb/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(&app{stdout: stdout, stderr: stderr, lookup: os.LookupEnv})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// app carries settings shared by every subcommand.
type app struct {
	stdout, stderr io.Writer
	lookup         config.LookupFunc

	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "reportsdb",
		Short:         "Generate MGI public reports from MGD",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/reportsdb/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")
	root.AddCommand(
		newListCmd(a),
		newDescribeCmd(a),
		newRunCmd(a),
		newParallelCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath, a.lookup)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
