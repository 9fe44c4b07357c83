package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"reportsdb/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		filter history.Filter
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded report runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(cmd.Context(), a.cfg.History, a.logger)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("run history is disabled (history.driver: none)")
			}
			defer func() { _ = store.Close() }()
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			runs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tREPORT\tSTATUS\tROWS\tBYTES\tFORMATS\tERROR")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					run.StartedAt.Format(time.RFC3339), run.Report, run.Status,
					run.Rows, run.Bytes, strings.Join(run.Formats, ","), run.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.Report, "report", "", "only this report slug")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only runs with this status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum runs shown (0 for all)")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs started within this window")
	return cmd
}
