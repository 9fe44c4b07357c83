package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"reportsdb/internal/db"
	"reportsdb/internal/db/dbtest"
	"reportsdb/internal/dispatch"
	"reportsdb/internal/reports"
	"reportsdb/pkg/reportapi"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	dir        string
	configPath string
	outputDir  string
	textfile   string
}

// newFixture seeds a sqlite MGD copy and writes a config pointing at it.
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mgd.db")
	ctx := context.Background()
	handle, err := db.Open(ctx, db.Config{Driver: db.DialectSQLite, DSN: dbPath}, nil)
	require.NoError(t, err)
	require.NoError(t, handle.ExecScript(ctx, dbtest.Schema))
	require.NoError(t, handle.ExecScript(ctx, dbtest.Seed))
	require.NoError(t, handle.Close())

	f := fixture{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		outputDir:  filepath.Join(dir, "out"),
		textfile:   filepath.Join(dir, "metrics", "reportsdb.prom"),
	}
	doc := "database:\n" +
		"  driver: sqlite\n" +
		"  dsn: " + dbPath + "\n" +
		"output:\n" +
		"  dir: " + f.outputDir + "\n" +
		"reports:\n" +
		"  parallelism: 2\n" +
		"logging:\n" +
		"  level: error\n" +
		"metrics:\n" +
		"  textfile: " + f.textfile + "\n" +
		"  trace_file: " + filepath.Join(dir, "trace.jsonl") + "\n" +
		"history:\n" +
		"  driver: sqlite\n" +
		"  path: " + filepath.Join(dir, "history.db") + "\n" +
		"server:\n" +
		"  workers: 1\n" +
		"  queue_size: 4\n"
	require.NoError(t, os.WriteFile(f.configPath, []byte(doc), 0o600))
	return f
}

func noEnv(string) (string, bool) { return "", false }

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&app{stdout: &stdout, stderr: &stderr, lookup: noEnv})
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestListAndDescribe(t *testing.T) {
	f := newFixture(t)
	out, err := runCLI(t, "list", "--config", f.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "REPORT")
	assert.Contains(t, out, "MRK_List1.rpt")
	assert.Contains(t, out, "go_terms.mgi")

	out, err = runCLI(t, "describe", "mrk_list1", "--config", f.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"filename": "MRK_List1.rpt"`)

	_, err = runCLI(t, "describe", "nope", "--config", f.configPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reports.ErrReportNotFound))
}

func TestMissingConfigFails(t *testing.T) {
	_, err := runCLI(t, "list", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRunWritesReportsMetricsAndHistory(t *testing.T) {
	f := newFixture(t)
	out, err := runCLI(t, "run", "mrk_list1", "go_terms", "--config", f.configPath, "--format", "tab,json")
	require.NoError(t, err, out)
	assert.Contains(t, out, "succeeded")

	for _, name := range []string{"MRK_List1.rpt", "MRK_List1.json", "go_terms.mgi", "go_terms.json"} {
		_, statErr := os.Stat(filepath.Join(f.outputDir, name))
		require.NoError(t, statErr, name)
	}
	data, err := os.ReadFile(filepath.Join(f.outputDir, "go_terms.mgi"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "GO:0005634\tnucleus")

	metrics, err := os.ReadFile(f.textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "reportsdb_report_runs_total")
	assert.Contains(t, string(metrics), "reportsdb_dispatch_jobs_total")

	trace, err := os.ReadFile(filepath.Join(f.dir, "trace.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(trace), "\n"))

	out, err = runCLI(t, "history", "--config", f.configPath, "--status", "succeeded")
	require.NoError(t, err)
	assert.Contains(t, out, "mrk_list1")
	assert.Contains(t, out, "go_terms")
}

func TestRunCompressesWhenAsked(t *testing.T) {
	f := newFixture(t)
	_, err := runCLI(t, "run", "go_terms", "--config", f.configPath, "--compress")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.outputDir, "go_terms.mgi.gz"))
	require.NoError(t, err)
}

func TestRunReportsFailures(t *testing.T) {
	f := newFixture(t)
	out, err := runCLI(t, "run", "go_terms", "--config", f.configPath, "--param", "bogus=1")
	require.Error(t, err)
	var batch *dispatch.BatchError
	require.True(t, errors.As(err, &batch), "got %v", err)
	assert.Contains(t, out, "failed")

	out, err = runCLI(t, "history", "--config", f.configPath, "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "parameter not declared")
}

func TestRunRejectsBadFlags(t *testing.T) {
	f := newFixture(t)
	_, err := runCLI(t, "run", "--config", f.configPath, "--format", "pdf")
	require.ErrorContains(t, err, "unknown format")
	_, err = runCLI(t, "run", "--config", f.configPath, "--param", "novalue")
	require.ErrorContains(t, err, "name=value")
	_, err = runCLI(t, "run", "ghost", "--config", f.configPath)
	require.True(t, errors.Is(err, reports.ErrReportNotFound))
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"include_obsolete=true", " exclude_iea =false", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"include_obsolete": "true", "exclude_iea": "false", "note": "a=b"}, got)

	got, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParallelRunsShellCommands(t *testing.T) {
	f := newFixture(t)
	logDir := filepath.Join(f.dir, "logs")
	jobsFile := filepath.Join(f.dir, "jobs")
	require.NoError(t, os.WriteFile(jobsFile, []byte("# weekly\necho from-file\n\n"), 0o600))

	out, err := runCLI(t, "parallel", "--config", f.configPath, "--jobs-file", jobsFile, "--log-dir", logDir, "--", "echo hello")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	data, err := os.ReadFile(filepath.Join(logDir, entries[1].Name()))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	out, err = runCLI(t, "parallel", "--config", f.configPath, "--", "exit 3")
	require.Error(t, err)
	assert.Contains(t, out, "failed")

	_, err = runCLI(t, "parallel", "--config", f.configPath)
	require.ErrorContains(t, err, "no commands")
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := runCLI(t, "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "reportsdb dev"), out)
}

func TestServeAnswersAndShutsDown(t *testing.T) {
	f := newFixture(t)
	a := &app{stdout: io.Discard, stderr: io.Discard, lookup: noEnv, configPath: f.configPath}
	require.NoError(t, a.load())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	base := "http://" + ln.Addr().String()
	get := func(path string) (int, string) {
		t.Helper()
		resp, err := client.Get(base + path)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get("/api/v1/reports")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "mrk_list1")

	resp, err := client.Post(base+"/api/v1/reports/go_terms/run", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Post(base+"/api/v1/exports", "application/json", strings.NewReader(`{"report":"go_terms","formats":["tab"]}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		_, body := get("/metrics")
		return strings.Contains(body, `reportsdb_report_runs_total{report="go_terms@`)
	}, 5*time.Second, 20*time.Millisecond)
	_, err = os.Stat(filepath.Join(f.outputDir, "go_terms.mgi"))
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func reportFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestRunAllSkipsReportsWithoutRequestedFormat(t *testing.T) {
	f := newFixture(t)
	out, err := runCLI(t, "run", "--config", f.configPath, "--format", "gff")
	require.NoError(t, err, out)
	assert.Equal(t, []string{"MGI.gff3"}, reportFiles(t, f.outputDir))
	assert.Contains(t, out, "mrk_list1@1.0.0")
	assert.Contains(t, out, "skipped")
}

func TestRunAllDropsUndeclaredParams(t *testing.T) {
	f := newFixture(t)
	out, err := runCLI(t, "run", "--config", f.configPath, "--param", "chromosome=2")
	require.NoError(t, err, out)
	files := reportFiles(t, f.outputDir)
	assert.Contains(t, files, "MRK_List1.rpt")
	assert.Contains(t, files, "go_terms.mgi")

	data, err := os.ReadFile(filepath.Join(f.outputDir, "MGI.gff3"))
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "2\t"), "feature outside chromosome 2: %q", line)
	}

	_, err = runCLI(t, "run", "mrk_list1", "--config", f.configPath, "--param", "chromosome=2")
	require.Error(t, err, "named reports keep undeclared parameters strict")
}

func TestPlanBatch(t *testing.T) {
	catalog, err := reports.NewDefaultCatalog()
	require.NoError(t, err)
	hosts, err := selectReports(catalog, []string{"mgi_gff3", "go_terms", "mgi_mrk_coord"})
	require.NoError(t, err)

	gff := []reportapi.Format{reportapi.FormatGFF}
	params := map[string]any{"Chromosome": "X", "include_obsolete": "true"}

	inputs, skipped := planBatch(hosts, gff, params, false)
	require.Len(t, inputs, 1)
	assert.Equal(t, "mgi_gff3@1.0.0", inputs[0].Report)
	assert.Equal(t, gff, inputs[0].Formats)
	assert.Equal(t, map[string]any{"Chromosome": "X"}, inputs[0].Parameters)
	assert.Equal(t, []string{"go_terms@1.0.0", "mgi_mrk_coord@1.0.0"}, skipped)

	inputs, skipped = planBatch(hosts, nil, params, false)
	require.Len(t, inputs, 3)
	assert.Empty(t, skipped)
	assert.Nil(t, inputs[0].Formats, "no requested formats leaves the primary format to the exporter")
	assert.Equal(t, map[string]any{"include_obsolete": "true"}, inputs[1].Parameters)

	inputs, skipped = planBatch(hosts, gff, params, true)
	require.Len(t, inputs, 3)
	assert.Empty(t, skipped)
	for _, in := range inputs {
		assert.Equal(t, gff, in.Formats)
		assert.Equal(t, params, in.Parameters)
	}
}
