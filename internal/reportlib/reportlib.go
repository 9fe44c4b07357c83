// Package reportlib holds the boilerplate shared by MGI flat-file reports:
// headers, footers, field formatting and file naming.
package reportlib

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"reportsdb/pkg/reportapi"
)

const (
	TAB   = "\t"
	CRT   = "\n"
	SPACE = " "
)

// DateLayout is the MM/DD/YYYY HH:MM:SS stamp used in report headers.
const DateLayout = "01/02/2006 15:04:05"

const (
	bannerInstitution = "The Jackson Laboratory - Mouse Genome Informatics - Mouse Genome Database (MGD)"
	bannerCopyright   = "Copyright 1996, 1999, 2002, 2005, 2008 The Jackson Laboratory"
	bannerURL         = "(http://www.informatics.jax.org)"
)

// Zone is the time zone header stamps are printed in. Run results carry UTC
// times; the banner shows the generating host's wall clock.
var Zone = time.Local

// Date formats t with layout, or DateLayout when layout is empty.
func Date(t time.Time, layout string) string {
	if layout == "" {
		layout = DateLayout
	}
	return t.Format(layout)
}

// Header writes the preamble for style.
func Header(w io.Writer, style reportapi.HeaderStyle, title string, now time.Time) error {
	var b strings.Builder
	now = now.In(Zone)
	switch style {
	case reportapi.HeaderNone:
	case reportapi.HeaderGAF:
		b.WriteString("!gaf-version: 2.2" + CRT)
		b.WriteString("!generated-by: MGI" + CRT)
		b.WriteString("!date-generated: " + now.Format("2006-01-02") + CRT)
	case reportapi.HeaderGFF:
		b.WriteString("##gff-version 3" + CRT)
	case reportapi.HeaderMGI, "":
		b.WriteString(bannerInstitution + CRT)
		b.WriteString(bannerCopyright + CRT)
		b.WriteString("All Rights Reserved" + CRT)
		b.WriteString("Date Generated:  " + Date(now, "") + CRT)
		b.WriteString(bannerURL + CRT + CRT)
		if title != "" {
			b.WriteString(title + CRT + CRT)
		}
	default:
		return fmt.Errorf("reportlib: unknown header style %q", style)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Footer writes the trailer for style.
func Footer(w io.Writer, style reportapi.HeaderStyle, rows int) error {
	if style != reportapi.HeaderMGI && style != "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "%s(%d rows affected)%s", CRT, rows, CRT)
	return err
}

// PrValue renders a nullable value; NULL becomes "".
func PrValue(v any) string {
	if v == nil {
		return ""
	}
	return reportapi.Row{"v": v}.String("v")
}

// CM renders a cM offset: -1 is syntenic, -999 is N/A.
func CM(row reportapi.Row, col string) string {
	v, ok := row.Float(col)
	if !ok {
		return ""
	}
	return CMValue(v)
}

func CMValue(v float64) string {
	switch v {
	case -1:
		return "syntenic"
	case -999:
		return "N/A"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Coordinate renders a genome coordinate as an integer; NULL is "".
func Coordinate(row reportapi.Row, col string) string {
	v, ok := row.Float(col)
	if !ok {
		return ""
	}
	return strconv.FormatInt(int64(math.Round(v)), 10)
}

// Writer writes delimited rows, one physical line per row.
type Writer struct {
	w     *bufio.Writer
	delim string
	rows  int
}

func NewWriter(w io.Writer, delim string) *Writer {
	if delim == "" {
		delim = TAB
	}
	return &Writer{w: bufio.NewWriter(w), delim: delim}
}

// WriteRow joins fields with the delimiter. Embedded delimiters and line
// breaks are replaced with a space.
func (w *Writer) WriteRow(fields ...string) error {
	clean := make([]string, len(fields))
	for i, f := range fields {
		clean[i] = Sanitize(f, w.delim)
	}
	if _, err := w.w.WriteString(strings.Join(clean, w.delim) + CRT); err != nil {
		return err
	}
	w.rows++
	return nil
}

// WriteLine writes text verbatim followed by a newline; it is not counted as a row.
func (w *Writer) WriteLine(text string) error {
	_, err := w.w.WriteString(text + CRT)
	return err
}

// Rows is the number of rows written with WriteRow.
func (w *Writer) Rows() int { return w.rows }

func (w *Writer) Flush() error { return w.w.Flush() }

// Sanitize replaces delim, CR and LF in s with a space.
func Sanitize(s, delim string) string {
	if delim != "" && strings.Contains(s, delim) {
		s = strings.ReplaceAll(s, delim, SPACE)
	}
	if strings.ContainsAny(s, "\r\n") {
		s = strings.NewReplacer("\r\n", SPACE, "\r", SPACE, "\n", SPACE).Replace(s)
	}
	return s
}

var extensions = map[reportapi.Format]string{
	reportapi.FormatTab:      "rpt",
	reportapi.FormatCSV:      "csv",
	reportapi.FormatJSON:     "json",
	reportapi.FormatHTML:     "html",
	reportapi.FormatGFF:      "gff3",
	reportapi.FormatParquet:  "parquet",
	reportapi.FormatXLSX:     "xlsx",
	reportapi.FormatMarkdown: "md",
}

// Extension returns the file extension used for format.
func Extension(format reportapi.Format) string { return extensions[format] }

// OutputName names an artifact. The primary format keeps filename verbatim;
// other formats swap the extension. Compressed artifacts gain ".gz".
func OutputName(filename string, format, primary reportapi.Format, compress bool) string {
	name := filename
	if format != primary {
		name = strings.TrimSuffix(filename, path.Ext(filename)) + "." + Extension(format)
	}
	if compress {
		name += ".gz"
	}
	return name
}
