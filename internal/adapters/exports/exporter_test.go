package exports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"

	"reportsdb/internal/blob"
	"reportsdb/internal/db/dbtest"
	"reportsdb/internal/history"
	"reportsdb/internal/observability"
	"reportsdb/internal/reportlib"
	"reportsdb/internal/reports"
	"reportsdb/pkg/reportapi"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fixture struct {
	exporter *Exporter
	catalog  *reports.Catalog
	store    blob.Store
	db       reportapi.Database
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	database := dbtest.Open(t)
	catalog, err := reports.NewDefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, catalog.Bind(reportapi.Environment{DB: database, Now: clock}))
	store := blob.NewMemory()
	opts = append([]Option{WithClock(clock)}, opts...)
	return fixture{
		exporter: NewExporter(catalog, database, store, opts...),
		catalog:  catalog,
		store:    store,
		db:       database,
	}
}

func (f fixture) read(t *testing.T, key string) (blob.Info, []byte) {
	t.Helper()
	info, rc, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return info, data
}

type runObservation struct {
	report string
	status string
	rows   int
	bytes  int64
}

type fakeMetrics struct {
	mu   sync.Mutex
	runs []runObservation
}

func (m *fakeMetrics) ObserveRun(report, status string, _ time.Duration, rows int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, runObservation{report, status, rows, bytes})
}

func TestExportWritesMGIFlatFile(t *testing.T) {
	f := newFixture(t)
	record, err := f.exporter.Export(context.Background(), ExportInput{Report: "mrk_list1"})
	require.NoError(t, err)
	assert.Equal(t, ExportStatusSucceeded, record.Status)
	assert.Equal(t, []reportapi.Format{reportapi.FormatTab}, record.Formats)
	require.Len(t, record.Artifacts, 1)
	assert.Equal(t, "MRK_List1.rpt", record.Artifacts[0].Key)
	assert.Equal(t, 5, record.Rows)

	info, data := f.read(t, "MRK_List1.rpt")
	assert.Equal(t, "text/plain; charset=utf-8", info.ContentType)
	assert.Equal(t, "mrk_list1@1.0.0", info.Metadata["report"])
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, []string{
		"The Jackson Laboratory - Mouse Genome Informatics - Mouse Genome Database (MGD)",
		"Copyright 1996, 1999, 2002, 2005, 2008 The Jackson Laboratory",
		"All Rights Reserved",
		"Date Generated:  " + reportlib.Date(fixedNow.In(reportlib.Zone), ""),
		"(http://www.informatics.jax.org)",
		"",
		"List of All Mouse Markers (including withdrawn symbols)",
		"",
	}, lines[:8])
	assert.True(t, strings.HasPrefix(lines[8], "MGI Accession ID\tChr\tcM Position\t"))
	assert.Equal(t, "MGI:95661\tX\t3.68\t7959260\t7978071\t-\tGata1\tO\tGATA binding protein 1\tGene\tprotein coding gene\tGf-1", lines[9])
	assert.True(t, strings.HasSuffix(string(data), "\n\n(5 rows affected)\n"))
}

func TestExportWritesEveryTabularFormat(t *testing.T) {
	f := newFixture(t)
	formats := []reportapi.Format{
		reportapi.FormatTab, reportapi.FormatCSV, reportapi.FormatJSON, reportapi.FormatHTML,
		reportapi.FormatParquet, reportapi.FormatXLSX, reportapi.FormatMarkdown, reportapi.FormatCSV,
	}
	record, err := f.exporter.Export(context.Background(), ExportInput{Report: "mrk_list1@1.0.0", Formats: formats})
	require.NoError(t, err)
	keys := make([]string, len(record.Artifacts))
	for i, a := range record.Artifacts {
		keys[i] = a.Key
	}
	assert.Equal(t, []string{
		"MRK_List1.rpt", "MRK_List1.csv", "MRK_List1.json", "MRK_List1.html",
		"MRK_List1.parquet", "MRK_List1.xlsx", "MRK_List1.md",
	}, keys)

	_, csvData := f.read(t, "MRK_List1.csv")
	assert.True(t, strings.HasPrefix(string(csvData), "MGI Accession ID,Chr,cM Position,"))
	assert.Len(t, strings.Split(strings.TrimSpace(string(csvData)), "\n"), 6)

	_, htmlData := f.read(t, "MRK_List1.html")
	assert.Contains(t, string(htmlData), "<th>MGI Accession ID</th>")
	assert.Contains(t, string(htmlData), "<td>Gata1</td>")

	_, pq := f.read(t, "MRK_List1.parquet")
	file, err := parquet.OpenFile(bytes.NewReader(pq), int64(len(pq)))
	require.NoError(t, err)
	assert.Equal(t, int64(5), file.NumRows())
	var fields []string
	for _, field := range file.Schema().Fields() {
		fields = append(fields, field.Name())
	}
	assert.Contains(t, fields, "mgi_accession_id")
	assert.Contains(t, fields, "marker_synonyms_pipe_separated")

	_, xl := f.read(t, "MRK_List1.xlsx")
	book, err := excelize.OpenReader(bytes.NewReader(xl))
	require.NoError(t, err)
	defer func() { _ = book.Close() }()
	rows, err := book.GetRows("mrk_list1")
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "MGI Accession ID", rows[0][0])
	assert.Equal(t, "MGI:95661", rows[1][0])

	_, md := f.read(t, "MRK_List1.md")
	assert.True(t, strings.HasPrefix(string(md), "# List of All Mouse Markers (including withdrawn symbols)"))
	assert.Contains(t, string(md), "MGI Accession ID")
	assert.Contains(t, string(md), "Gata1")
}

func TestExportGFFKeepsFileName(t *testing.T) {
	f := newFixture(t)
	_, err := f.exporter.Export(context.Background(), ExportInput{Report: "mgi_gff3"})
	require.NoError(t, err)
	info, data := f.read(t, "MGI.gff3")
	assert.Equal(t, "text/x-gff3", info.ContentType)
	assert.True(t, strings.HasPrefix(string(data), "##gff-version 3\n"))
	assert.NotContains(t, string(data), "rows affected")
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)
}

func TestExportCompressesWithPrefix(t *testing.T) {
	f := newFixture(t, WithCompression(true), WithPrefix("/weekly/"))
	record, err := f.exporter.Export(context.Background(), ExportInput{Report: "go_terms"})
	require.NoError(t, err)
	require.Len(t, record.Artifacts, 1)
	assert.Equal(t, "weekly/go_terms.mgi.gz", record.Artifacts[0].Key)
	assert.Equal(t, "gzip", record.Artifacts[0].ContentEncoding)

	_, data := f.read(t, "weekly/go_terms.mgi.gz")
	zr, err := pgzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.NoError(t, zr.Close())
	assert.Equal(t, "Biological Process\tGO:0001654\teye development\n"+
		"Molecular Function\tGO:0003700\tDNA-binding transcription factor activity\n"+
		"Cellular Component\tGO:0005634\tnucleus\n", string(plain))
}

func TestExportRejectsUnknownReportAndFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.exporter.Export(context.Background(), ExportInput{Report: "nope"})
	require.ErrorIs(t, err, reports.ErrReportNotFound)

	_, err = f.exporter.Export(context.Background(), ExportInput{Report: "go_terms", Formats: []reportapi.Format{reportapi.FormatXLSX}})
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = f.exporter.Export(context.Background(), ExportInput{})
	require.Error(t, err)

	infos, err := f.store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestExportRecordsObservability(t *testing.T) {
	metrics := &fakeMetrics{}
	audit := &MemoryAuditLog{}
	tracer := observability.NewJSONTracer(nil)
	runs, err := history.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	f := newFixture(t, WithMetrics(metrics), WithAudit(audit), WithTracer(tracer), WithHistory(runs))
	ctx := context.Background()
	ok, err := f.exporter.Export(ctx, ExportInput{Report: "mrk_list2", Formats: []reportapi.Format{reportapi.FormatTab, reportapi.FormatJSON}, RequestedBy: "cron"})
	require.NoError(t, err)

	bad, err := f.exporter.Export(ctx, ExportInput{Report: "go_terms", Parameters: map[string]any{"bogus": 1}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bogus", verr.Errors[0].Name)
	assert.Equal(t, ExportStatusFailed, bad.Status)
	assert.NotNil(t, bad.CompletedAt)

	assert.Equal(t, []runObservation{
		{"mrk_list2@1.0.0", "succeeded", 4, ok.Bytes()},
		{"go_terms@1.0.0", "failed", 0, 0},
	}, metrics.runs)

	var statuses []ExportStatus
	for _, entry := range audit.Entries() {
		statuses = append(statuses, entry.Status)
	}
	assert.Equal(t, []ExportStatus{ExportStatusRunning, ExportStatusSucceeded, ExportStatusRunning, ExportStatusFailed}, statuses)
	assert.Equal(t, "cron", audit.Entries()[1].Actor)

	spans := tracer.Entries()
	require.Len(t, spans, 2)
	assert.Equal(t, "export mrk_list2@1.0.0", spans[0].Operation)
	assert.Equal(t, "error", spans[1].Status)

	last, found, err := runs.Last(ctx, "mrk_list2@1.0.0")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ok.ID, last.ID)
	assert.Equal(t, []string{"tab", "json"}, last.Formats)
	assert.Equal(t, int64(4), last.Rows)
	assert.Equal(t, ok.Bytes(), last.Bytes)

	failed, err := runs.List(ctx, history.Filter{Status: history.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "bogus")
}

type brokenDB struct{}

func (brokenDB) Session(context.Context) (reportapi.Session, error) {
	return nil, errors.New("connection refused")
}
func (brokenDB) Dialect() string { return "postgres" }

func TestExportReportsSessionFailure(t *testing.T) {
	f := newFixture(t)
	exporter := NewExporter(f.catalog, brokenDB{}, f.store, WithClock(clock))
	record, err := exporter.Export(context.Background(), ExportInput{Report: "mrk_list1"})
	require.Error(t, err)
	assert.Equal(t, ExportStatusFailed, record.Status)
	assert.Contains(t, record.Error, "connection refused")
	assert.Empty(t, record.Artifacts)
}
