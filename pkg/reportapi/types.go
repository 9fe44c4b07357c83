// Package reportapi defines the contract between report definitions and the
// host that binds, runs and exports them.
package reportapi

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

type Format string

const (
	FormatTab      Format = "tab"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatGFF      Format = "gff"
	FormatParquet  Format = "parquet"
	FormatXLSX     Format = "xlsx"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a user supplied format name onto a Format.
func ParseFormat(name string) (Format, bool) {
	switch Format(name) {
	case FormatTab, FormatCSV, FormatJSON, FormatHTML, FormatGFF, FormatParquet, FormatXLSX, FormatMarkdown:
		return Format(name), true
	case "rpt", "tsv":
		return FormatTab, true
	case "md":
		return FormatMarkdown, true
	}
	return "", false
}

// HeaderStyle selects the boilerplate written ahead of a flat file.
type HeaderStyle string

const (
	HeaderNone HeaderStyle = "none"
	HeaderMGI  HeaderStyle = "mgi"
	HeaderGAF  HeaderStyle = "gaf"
	HeaderGFF  HeaderStyle = "gff"
)

type Parameter struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Required    bool            `json:"required"`
	Description string          `json:"description,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
	Example     json.RawMessage `json:"example,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
}

type ParameterError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e ParameterError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Metadata struct {
	Source          string            `json:"source,omitempty"`
	Documentation   string            `json:"documentation,omitempty"`
	RefreshInterval string            `json:"refresh_interval,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Annotations     map[string]string `json:"annotations,omitempty"`
}

// Session is a single pinned database connection. Temporary tables staged
// through a session remain visible until it is closed.
type Session interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Batch(ctx context.Context, statements []string) ([][]Row, error)
	TempTable(ctx context.Context, name, query string, args ...any) error
	Index(ctx context.Context, table, column string) error
	Close() error
}

// Database hands out sessions against the report source.
type Database interface {
	Session(ctx context.Context) (Session, error)
	Dialect() string
}

type Environment struct {
	DB     Database
	Now    func() time.Time
	Logger *zap.Logger
}

type Report struct {
	Key           string
	Version       string
	Title         string
	Description   string
	Filename      string
	Header        HeaderStyle
	ColumnHeader  bool
	Parameters    []Parameter
	Columns       []Column
	Metadata      Metadata
	OutputFormats []Format
	Binder        Binder
}

type Descriptor struct {
	Key           string      `json:"key"`
	Version       string      `json:"version"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Filename      string      `json:"filename"`
	Header        HeaderStyle `json:"header"`
	ColumnHeader  bool        `json:"column_header"`
	Parameters    []Parameter `json:"parameters"`
	Columns       []Column    `json:"columns"`
	Metadata      Metadata    `json:"metadata"`
	OutputFormats []Format    `json:"output_formats"`
	Slug          string      `json:"slug"`
}

// PrimaryFormat is the first declared output format.
func (d Descriptor) PrimaryFormat() Format {
	if len(d.OutputFormats) == 0 {
		return ""
	}
	return d.OutputFormats[0]
}

type RunRequest struct {
	Report     Descriptor
	Parameters map[string]any
	Session    Session
}

type RunResult struct {
	Schema      []Column         `json:"schema"`
	Rows        []map[string]any `json:"rows"`
	Comments    []string         `json:"comments,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	Format      Format           `json:"format"`
}

type Runner func(context.Context, RunRequest) (RunResult, error)

type Binder func(Environment) (Runner, error)
