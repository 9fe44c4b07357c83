package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportsdb/internal/adapters/exports"
	"reportsdb/internal/dispatch"
	"reportsdb/pkg/reportapi"
)

type runOptions struct {
	parallel int
	formats  []string
	params   []string
	compress bool
	actor    string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [report...]",
		Short: "Generate reports; all of them when none are named",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("compress") {
				opts.compress = a.cfg.Output.Compress
			}
			return a.runReports(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "n", 0, "reports generated at once (default reports.parallelism)")
	cmd.Flags().StringSliceVarP(&opts.formats, "format", "f", nil, "output formats (default reports.formats or each report's primary)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "report parameter as name=value, repeatable")
	cmd.Flags().BoolVar(&opts.compress, "compress", false, "gzip report files")
	cmd.Flags().StringVar(&opts.actor, "actor", "cli", "requested_by recorded in history")
	return cmd
}

func (a *app) runReports(ctx context.Context, refs []string, opts runOptions) error {
	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	requested := opts.formats
	if len(requested) == 0 {
		requested = a.cfg.Reports.Formats
	}
	formats, err := parseFormats(requested)
	if err != nil {
		return err
	}
	parallel := opts.parallel
	if parallel <= 0 {
		parallel = a.cfg.Reports.Parallelism
	}

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	hosts, err := selectReports(rt.catalog, refs)
	if err != nil {
		return err
	}
	inputs, skipped := planBatch(hosts, formats, params, len(refs) > 0)
	jobs := make([]dispatch.Job, 0, len(inputs))
	records := make([]exports.ExportRecord, len(inputs))
	for i, input := range inputs {
		input.Compress = opts.compress
		input.RequestedBy = opts.actor
		jobs = append(jobs, dispatch.Job{
			Name: input.Report,
			Run: func(ctx context.Context) error {
				rec, err := rt.exporter.Export(ctx, input)
				records[i] = rec
				return err
			},
		})
	}
	for _, slug := range skipped {
		a.logger.Info("report skipped: no requested format", zap.String("report", slug))
	}

	d := dispatch.New(parallel, dispatch.WithLogger(a.logger), dispatch.WithObserver(rt.recorder))
	summary, runErr := d.Run(ctx, jobs)
	for _, slug := range skipped {
		summary.Results = append(summary.Results, dispatch.Result{
			Name: slug, Status: dispatch.StatusSkipped, Error: "no requested format",
		})
	}
	a.flushMetrics(rt.recorder)
	printSummary(a, summary, records)
	if runErr != nil {
		a.logger.Error("report batch failed", zap.Error(runErr))
	}
	return runErr
}

// selectReports resolves refs, or the whole catalog when refs is empty.
func selectReports(c exports.Catalog, refs []string) ([]reportapi.HostReport, error) {
	if len(refs) == 0 {
		descs := c.Descriptors()
		refs = make([]string, len(descs))
		for i, d := range descs {
			refs[i] = d.Slug
		}
	}
	hosts := make([]reportapi.HostReport, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		host, err := c.Lookup(ref)
		if err != nil {
			return nil, err
		}
		if seen[host.Slug()] {
			continue
		}
		seen[host.Slug()] = true
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// planBatch builds one export per host. Named reports (strict) take formats
// and parameters as given so mistakes fail loudly. A whole-catalog run narrows
// both to what each report declares and skips reports left with no format.
func planBatch(hosts []reportapi.HostReport, formats []reportapi.Format, params map[string]any, strict bool) ([]exports.ExportInput, []string) {
	inputs := make([]exports.ExportInput, 0, len(hosts))
	var skipped []string
	for _, host := range hosts {
		input := exports.ExportInput{Report: host.Slug(), Formats: formats, Parameters: params}
		if !strict {
			input.Formats = supportedFormats(host, formats)
			if len(formats) > 0 && len(input.Formats) == 0 {
				skipped = append(skipped, host.Slug())
				continue
			}
			input.Parameters = declaredParams(host, params)
		}
		inputs = append(inputs, input)
	}
	return inputs, skipped
}

func supportedFormats(host reportapi.HostReport, formats []reportapi.Format) []reportapi.Format {
	var out []reportapi.Format
	for _, f := range formats {
		if host.SupportsFormat(f) {
			out = append(out, f)
		}
	}
	return out
}

// declaredParams keeps the params host declares, matching names case-insensitively.
func declaredParams(host reportapi.HostReport, params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	declared := make(map[string]bool)
	for _, p := range host.Descriptor().Parameters {
		declared[strings.ToLower(p.Name)] = true
	}
	var out map[string]any
	for name, value := range params {
		if !declared[strings.ToLower(name)] {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(params))
		}
		out[name] = value
	}
	return out
}

func parseFormats(names []string) ([]reportapi.Format, error) {
	out := make([]reportapi.Format, 0, len(names))
	for _, name := range names {
		f, ok := reportapi.ParseFormat(name)
		if !ok {
			return nil, fmt.Errorf("unknown format %q", name)
		}
		out = append(out, f)
	}
	return out, nil
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q: want name=value", pair)
		}
		out[name] = value
	}
	return out, nil
}

func printSummary(a *app, summary dispatch.Summary, records []exports.ExportRecord) {
	byName := make(map[string]exports.ExportRecord, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			byName[rec.Report.Slug] = rec
		}
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPORT\tSTATUS\tROWS\tFILES\tELAPSED")
	for _, res := range summary.Results {
		rec := byName[res.Name]
		keys := make([]string, len(rec.Artifacts))
		for i, art := range rec.Artifacts {
			keys[i] = art.Key
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", res.Name, res.Status, rec.Rows, strings.Join(keys, ","), res.Duration().Round(1e6))
	}
	_ = tw.Flush()
}
