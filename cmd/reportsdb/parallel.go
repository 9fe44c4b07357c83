package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reportsdb/internal/dispatch"
	"reportsdb/internal/observability"
)

type parallelOptions struct {
	size     int
	jobsFile string
	logDir   string
}

func newParallelCmd(a *app) *cobra.Command {
	var opts parallelOptions
	cmd := &cobra.Command{
		Use:   "parallel [flags] [-- command...]",
		Short: "Run shell commands through a bounded pool, stopping on the first failure",
		Long: "Each argument is one shell command line. With --jobs-file the commands are " +
			"read one per line; blank lines and lines starting with # are ignored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runParallel(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.size, "jobs", "j", 0, "commands run at once (default reports.parallelism)")
	cmd.Flags().StringVar(&opts.jobsFile, "jobs-file", "", "file listing one command per line")
	cmd.Flags().StringVar(&opts.logDir, "log-dir", "", "directory receiving one log per command")
	return cmd
}

func (a *app) runParallel(ctx context.Context, lines []string, opts parallelOptions) error {
	var cmds []dispatch.Command
	if opts.jobsFile != "" {
		f, err := os.Open(opts.jobsFile)
		if err != nil {
			return err
		}
		cmds, err = dispatch.ReadJobs(f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}
	for _, line := range lines {
		cmds = append(cmds, dispatch.Shell(line))
	}
	if len(cmds) == 0 {
		return errors.New("no commands to run")
	}
	if opts.logDir != "" {
		cmds = dispatch.WithLogDir(cmds, opts.logDir)
	}
	size := opts.size
	if size <= 0 {
		size = a.cfg.Reports.Parallelism
	}
	jobs := make([]dispatch.Job, len(cmds))
	for i, c := range cmds {
		jobs[i] = c.Job()
	}

	recorder := observability.NewRecorder()
	summary, err := dispatch.New(size, dispatch.WithLogger(a.logger), dispatch.WithObserver(recorder)).Run(ctx, jobs)
	a.flushMetrics(recorder)
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tELAPSED\tERROR")
	for _, res := range summary.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Name, res.Status, res.Duration().Round(1e6), res.Error)
	}
	_ = tw.Flush()
	return err
}
