// Package exports runs reports and stores every requested format in the
// output blob store, either inline or through an asynchronous worker.
package exports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"reportsdb/internal/blob"
	"reportsdb/internal/history"
	"reportsdb/internal/logging"
	"reportsdb/internal/observability"
	"reportsdb/internal/reportlib"
	"reportsdb/pkg/reportapi"
)

// ExportStatus describes the lifecycle stage of an export.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// Artifact is one stored output file.
type Artifact struct {
	Key             string           `json:"key"`
	Format          reportapi.Format `json:"format"`
	ContentType     string           `json:"content_type"`
	ContentEncoding string           `json:"content_encoding,omitempty"`
	SizeBytes       int64            `json:"size_bytes"`
	ETag            string           `json:"etag,omitempty"`
	Rows            int              `json:"rows"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ExportRecord tracks an export and its artifacts.
type ExportRecord struct {
	ID          string               `json:"id"`
	Report      reportapi.Descriptor `json:"report"`
	Parameters  map[string]any       `json:"parameters"`
	Formats     []reportapi.Format   `json:"formats"`
	Compress    bool                 `json:"compress"`
	Status      ExportStatus         `json:"status"`
	Error       string               `json:"error,omitempty"`
	Rows        int                  `json:"rows"`
	Artifacts   []Artifact           `json:"artifacts,omitempty"`
	RequestedBy string               `json:"requested_by,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// Bytes sums the stored artifact sizes.
func (r ExportRecord) Bytes() int64 {
	var total int64
	for _, a := range r.Artifacts {
		total += a.SizeBytes
	}
	return total
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Parameters = cloneMap(r.Parameters)
	dup.Formats = append([]reportapi.Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

// ExportInput requests one report. Empty Formats means the primary format.
type ExportInput struct {
	ID          string
	Report      string
	Parameters  map[string]any
	Formats     []reportapi.Format
	Compress    bool
	RequestedBy string
	Reason      string
}

// Catalog resolves report definitions.
type Catalog interface {
	Descriptors() []reportapi.Descriptor
	Lookup(ref string) (reportapi.HostReport, error)
}

// Metrics receives one observation per finished export.
type Metrics interface {
	ObserveRun(report, status string, elapsed time.Duration, rows int, bytes int64)
}

// History persists finished exports.
type History interface {
	Record(ctx context.Context, run history.Run) (history.Run, error)
}

// AuditLogger records export status transitions.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry is one status transition.
type AuditEntry struct {
	ID         string         `json:"id"`
	ExportID   string         `json:"export_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor,omitempty"`
	Report     string         `json:"report"`
	Status     ExportStatus   `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ValidationError carries parameter problems.
type ValidationError struct {
	Report string
	Errors []reportapi.ParameterError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		msgs[i] = pe.Error()
	}
	return fmt.Sprintf("%s: invalid parameters: %s", e.Report, strings.Join(msgs, "; "))
}

// ErrUnsupportedFormat is returned for formats a report does not declare.
var ErrUnsupportedFormat = errors.New("format not supported by report")

// Exporter runs reports and writes their artifacts.
type Exporter struct {
	catalog  Catalog
	db       reportapi.Database
	store    blob.Store
	audit    AuditLogger
	metrics  Metrics
	tracer   observability.Tracer
	history  History
	logger   *zap.Logger
	now      func() time.Time
	compress bool
	prefix   string
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithAudit(a AuditLogger) Option        { return func(e *Exporter) { e.audit = a } }
func WithMetrics(m Metrics) Option          { return func(e *Exporter) { e.metrics = m } }
func WithHistory(h History) Option          { return func(e *Exporter) { e.history = h } }
func WithLogger(l *zap.Logger) Option       { return func(e *Exporter) { e.logger = logging.OrNop(l) } }
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

func WithTracer(t observability.Tracer) Option {
	return func(e *Exporter) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithCompression gzips every artifact unless the input overrides it.
func WithCompression(on bool) Option { return func(e *Exporter) { e.compress = on } }

// WithPrefix stores artifacts under a key prefix.
func WithPrefix(prefix string) Option {
	return func(e *Exporter) { e.prefix = strings.Trim(prefix, "/") }
}

// NewExporter wires an exporter. catalog must already be bound.
func NewExporter(catalog Catalog, db reportapi.Database, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		catalog: catalog,
		db:      db,
		store:   store,
		tracer:  observability.NopTracer{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan resolves the report and normalizes the requested formats.
func (e *Exporter) Plan(input ExportInput) (reportapi.HostReport, []reportapi.Format, error) {
	if e.catalog == nil {
		return reportapi.HostReport{}, nil, errors.New("export catalog not configured")
	}
	if strings.TrimSpace(input.Report) == "" {
		return reportapi.HostReport{}, nil, errors.New("report required")
	}
	host, err := e.catalog.Lookup(input.Report)
	if err != nil {
		return reportapi.HostReport{}, nil, err
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = []reportapi.Format{host.Descriptor().PrimaryFormat()}
	}
	out := make([]reportapi.Format, 0, len(formats))
	seen := make(map[reportapi.Format]struct{}, len(formats))
	for _, format := range formats {
		if _, dup := seen[format]; dup {
			continue
		}
		if !host.SupportsFormat(format) {
			return reportapi.HostReport{}, nil, fmt.Errorf("%w: %s does not produce %s", ErrUnsupportedFormat, host.Slug(), format)
		}
		seen[format] = struct{}{}
		out = append(out, format)
	}
	return host, out, nil
}

// Export runs one report synchronously. The returned record is complete even
// when err is non-nil.
func (e *Exporter) Export(ctx context.Context, input ExportInput) (ExportRecord, error) {
	started := e.now()
	host, formats, err := e.Plan(input)
	if err != nil {
		return ExportRecord{}, err
	}
	record := e.newRecord(input, host, formats, started)
	e.auditStatus(ctx, record, ExportStatusRunning, nil)
	record.Status = ExportStatusRunning
	return e.execute(ctx, host, record)
}

func (e *Exporter) newRecord(input ExportInput, host reportapi.HostReport, formats []reportapi.Format, at time.Time) ExportRecord {
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	return ExportRecord{
		ID:          id,
		Report:      host.Descriptor(),
		Parameters:  cloneMap(input.Parameters),
		Formats:     formats,
		Compress:    input.Compress || e.compress,
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   at.UTC(),
		UpdatedAt:   at.UTC(),
	}
}

// execute runs a planned record to completion.
func (e *Exporter) execute(ctx context.Context, host reportapi.HostReport, record ExportRecord) (ExportRecord, error) {
	started := e.now()
	slug := host.Slug()
	ctx, span := e.tracer.Start(ctx, "export "+slug)
	artifacts, rows, err := e.produce(ctx, host, record)
	span.End(err)

	finished := e.now()
	record.Rows = rows
	record.Artifacts = artifacts
	record.UpdatedAt = finished.UTC()
	completed := finished.UTC()
	record.CompletedAt = &completed
	if err != nil {
		record.Status = ExportStatusFailed
		record.Error = err.Error()
	} else {
		record.Status = ExportStatusSucceeded
	}

	elapsed := finished.Sub(started)
	if e.metrics != nil {
		e.metrics.ObserveRun(slug, string(record.Status), elapsed, rows, record.Bytes())
	}
	e.recordHistory(ctx, record, started, finished)
	e.auditStatus(ctx, record, record.Status, err)

	fields := []zap.Field{
		zap.String("report", slug),
		zap.String("export_id", record.ID),
		zap.Int("rows", rows),
		zap.Int64("bytes", record.Bytes()),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		e.logger.Error("report failed", append(fields, zap.Error(err))...)
		return record, err
	}
	e.logger.Info("report written", fields...)
	return record, nil
}

func (e *Exporter) produce(ctx context.Context, host reportapi.HostReport, record ExportRecord) ([]Artifact, int, error) {
	if e.db == nil {
		return nil, 0, errors.New("export database not configured")
	}
	cleaned, perrs := host.ValidateParameters(record.Parameters)
	if len(perrs) > 0 {
		return nil, 0, &ValidationError{Report: host.Slug(), Errors: perrs}
	}
	result, err := e.run(ctx, host, cleaned, record.Formats[0])
	if err != nil {
		return nil, 0, err
	}
	rows := len(result.Rows)
	desc := host.Descriptor()
	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		artifact, err := e.storeArtifact(ctx, desc, format, result, record.Compress)
		if err != nil {
			return artifacts, rows, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows, nil
}

func (e *Exporter) run(ctx context.Context, host reportapi.HostReport, params map[string]any, format reportapi.Format) (reportapi.RunResult, error) {
	session, err := e.db.Session(ctx)
	if err != nil {
		return reportapi.RunResult{}, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			e.logger.Warn("close session", zap.String("report", host.Slug()), zap.Error(cerr))
		}
	}()
	result, perrs, err := host.Run(ctx, session, params, format)
	if err != nil {
		return reportapi.RunResult{}, err
	}
	if len(perrs) > 0 {
		return reportapi.RunResult{}, &ValidationError{Report: host.Slug(), Errors: perrs}
	}
	return result, nil
}

func (e *Exporter) storeArtifact(ctx context.Context, desc reportapi.Descriptor, format reportapi.Format, result reportapi.RunResult, compress bool) (Artifact, error) {
	if e.store == nil {
		return Artifact{}, errors.New("export store not configured")
	}
	payload, contentType, err := Materialize(format, desc, result)
	if err != nil {
		return Artifact{}, err
	}
	encoding := ""
	if compress {
		if payload, err = gzipBytes(payload); err != nil {
			return Artifact{}, fmt.Errorf("compress %s: %w", format, err)
		}
		encoding = "gzip"
	}
	key := reportlib.OutputName(desc.Filename, format, desc.PrimaryFormat(), compress)
	if e.prefix != "" {
		key = path.Join(e.prefix, key)
	}
	info, err := e.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType:     contentType,
		ContentEncoding: encoding,
		Metadata: map[string]string{
			"report": desc.Slug,
			"format": string(format),
			"rows":   fmt.Sprint(len(result.Rows)),
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", key, err)
	}
	created := info.LastModified
	if created.IsZero() {
		created = e.now().UTC()
	}
	return Artifact{
		Key:             info.Key,
		Format:          format,
		ContentType:     contentType,
		ContentEncoding: encoding,
		SizeBytes:       info.Size,
		ETag:            info.ETag,
		Rows:            len(result.Rows),
		CreatedAt:       created,
	}, nil
}

func gzipBytes(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := pgzip.NewWriterLevel(&buf, pgzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Exporter) recordHistory(ctx context.Context, record ExportRecord, started, finished time.Time) {
	if e.history == nil {
		return
	}
	formats := make([]string, len(record.Formats))
	for i, f := range record.Formats {
		formats[i] = string(f)
	}
	_, err := e.history.Record(context.WithoutCancel(ctx), history.Run{
		ID:          record.ID,
		Report:      record.Report.Slug,
		Status:      string(record.Status),
		Formats:     formats,
		Rows:        int64(record.Rows),
		Bytes:       record.Bytes(),
		Error:       record.Error,
		RequestedBy: record.RequestedBy,
		StartedAt:   started,
		FinishedAt:  finished,
	})
	if err != nil {
		e.logger.Warn("record history", zap.String("report", record.Report.Slug), zap.Error(err))
	}
}

func (e *Exporter) auditStatus(ctx context.Context, record ExportRecord, status ExportStatus, cause error) {
	if e.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:         uuid.NewString(),
		ExportID:   record.ID,
		Action:     "report_export",
		Actor:      record.RequestedBy,
		Report:     record.Report.Slug,
		Status:     status,
		Reason:     record.Reason,
		OccurredAt: e.now().UTC(),
	}
	switch {
	case cause != nil:
		entry.Metadata = map[string]any{"error": cause.Error()}
	case status == ExportStatusSucceeded:
		entry.Metadata = map[string]any{"rows": record.Rows, "artifacts": len(record.Artifacts)}
	}
	e.audit.Record(ctx, entry)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MemoryAuditLog keeps audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ZapAuditLog writes audit entries to a logger.
type ZapAuditLog struct {
	Logger *zap.Logger
}

func (l ZapAuditLog) Record(_ context.Context, entry AuditEntry) {
	logging.OrNop(l.Logger).Info("export audit",
		zap.String("export_id", entry.ExportID),
		zap.String("report", entry.Report),
		zap.String("status", string(entry.Status)),
		zap.String("actor", entry.Actor),
		zap.Any("metadata", entry.Metadata),
	)
}
