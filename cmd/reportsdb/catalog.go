package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reportsdb/internal/reports"
	"reportsdb/pkg/reportapi"
)

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the reports in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runList(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}

func (a *app) runList(asJSON bool) error {
	catalog, err := reports.NewDefaultCatalog(a.cfg.Reports.Exclude...)
	if err != nil {
		return err
	}
	descs := catalog.Descriptors()
	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPORT\tFILE\tFORMATS\tTITLE")
	for _, d := range descs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Slug, d.Filename, joinFormats(d.OutputFormats), d.Title)
	}
	return tw.Flush()
}

func newDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <report>",
		Short: "Print a report descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := reports.NewDefaultCatalog(a.cfg.Reports.Exclude...)
			if err != nil {
				return err
			}
			host, err := catalog.Lookup(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(host.Descriptor())
		},
	}
}

func joinFormats(formats []reportapi.Format) string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}
