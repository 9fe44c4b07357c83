package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/nao1215/markdown"
	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"reportsdb/internal/reportlib"
	"reportsdb/pkg/reportapi"
)

var contentTypes = map[reportapi.Format]string{
	reportapi.FormatTab:      "text/plain; charset=utf-8",
	reportapi.FormatCSV:      "text/csv",
	reportapi.FormatJSON:     "application/json",
	reportapi.FormatHTML:     "text/html; charset=utf-8",
	reportapi.FormatGFF:      "text/x-gff3",
	reportapi.FormatParquet:  "application/vnd.apache.parquet",
	reportapi.FormatXLSX:     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	reportapi.FormatMarkdown: "text/markdown; charset=utf-8",
}

// ContentType returns the MIME type of format.
func ContentType(format reportapi.Format) string { return contentTypes[format] }

// Materialize renders result in format and returns the payload with its content type.
func Materialize(format reportapi.Format, desc reportapi.Descriptor, result reportapi.RunResult) ([]byte, string, error) {
	columns := result.Schema
	if len(columns) == 0 {
		columns = desc.Columns
	}
	var (
		payload []byte
		err     error
	)
	switch format {
	case reportapi.FormatTab:
		payload, err = buildFlat(desc.Header, desc.ColumnHeader, desc.Title, columns, result)
	case reportapi.FormatGFF:
		payload, err = buildFlat(reportapi.HeaderGFF, false, "", columns, result)
	case reportapi.FormatCSV:
		payload, err = buildCSV(columns, result)
	case reportapi.FormatJSON:
		payload, err = json.Marshal(result)
		if err != nil {
			err = fmt.Errorf("marshal json: %w", err)
		}
	case reportapi.FormatHTML:
		payload = buildHTML(desc.Title, columns, result)
	case reportapi.FormatParquet:
		payload, err = buildParquet(columns, result)
	case reportapi.FormatXLSX:
		payload, err = buildXLSX(desc.Key, columns, result)
	case reportapi.FormatMarkdown:
		payload, err = buildMarkdown(desc, columns, result)
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, "", fmt.Errorf("materialize %s: %w", format, err)
	}
	return payload, ContentType(format), nil
}

func cells(columns []reportapi.Column, row map[string]any) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = formatValue(row[col.Name])
	}
	return out
}

func columnNames(columns []reportapi.Column) []string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	return names
}

// buildFlat writes the MGI flat file: header, comments, optional column line,
// tab-delimited rows and footer.
func buildFlat(style reportapi.HeaderStyle, columnHeader bool, title string, columns []reportapi.Column, result reportapi.RunResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportlib.Header(&buf, style, title, result.GeneratedAt); err != nil {
		return nil, err
	}
	w := reportlib.NewWriter(&buf, reportlib.TAB)
	for _, comment := range result.Comments {
		if err := w.WriteLine(comment); err != nil {
			return nil, err
		}
	}
	if columnHeader {
		names := columnNames(columns)
		for i, name := range names {
			names[i] = reportlib.Sanitize(name, reportlib.TAB)
		}
		if err := w.WriteLine(strings.Join(names, reportlib.TAB)); err != nil {
			return nil, err
		}
	}
	for _, row := range result.Rows {
		if err := w.WriteRow(cells(columns, row)...); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	if err := reportlib.Footer(&buf, style, w.Rows()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildCSV(columns []reportapi.Column, result reportapi.RunResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columnNames(columns)); err != nil {
		return nil, err
	}
	for _, row := range result.Rows {
		if err := writer.Write(cells(columns, row)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildHTML(title string, columns []reportapi.Column, result reportapi.RunResult) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head><body><table>")
	b.WriteString("<thead><tr>")
	for _, col := range columns {
		b.WriteString("<th>" + html.EscapeString(col.Name) + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range result.Rows {
		b.WriteString("<tr>")
		for _, cell := range cells(columns, row) {
			b.WriteString("<td>" + html.EscapeString(cell) + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table></body></html>")
	return []byte(b.String())
}

// parquetName turns a report column title into a snake_case field name.
func parquetName(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		out = "column"
	}
	return out
}

// buildParquet writes every column as an optional UTF-8 string; NULL stays null.
func buildParquet(columns []reportapi.Column, result reportapi.RunResult) ([]byte, error) {
	group := make(parquet.Group, len(columns))
	names := make([]string, len(columns))
	for i, col := range columns {
		name := parquetName(col.Name)
		base := name
		for n := 2; ; n++ {
			if _, taken := group[name]; !taken {
				break
			}
			name = fmt.Sprintf("%s_%d", base, n)
		}
		names[i] = name
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("report", group)
	index := make(map[string]int, len(columns))
	for i, field := range schema.Fields() {
		index[field.Name()] = i
	}

	rows := make([]parquet.Row, 0, len(result.Rows))
	for _, src := range result.Rows {
		row := make(parquet.Row, len(columns))
		for i, col := range columns {
			ci := index[names[i]]
			v, ok := src[col.Name]
			if !ok || v == nil {
				row[ci] = parquet.NullValue().Level(0, 0, ci)
				continue
			}
			row[ci] = parquet.ValueOf(formatValue(v)).Level(0, 1, ci)
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	writer := parquet.NewWriter(&buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		_ = writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sheetName fits a report key into Excel's 31 character sheet name limit.
func sheetName(key string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, key)
	if name == "" {
		name = "report"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func buildXLSX(key string, columns []reportapi.Column, result reportapi.RunResult) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := sheetName(key)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	header := make([]any, len(columns))
	for i, name := range columnNames(columns) {
		header[i] = name
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return nil, err
	}
	for i, row := range result.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := make([]any, len(columns))
		for j, v := range cells(columns, row) {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}
	out, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

var markdownCell = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

func buildMarkdown(desc reportapi.Descriptor, columns []reportapi.Column, result reportapi.RunResult) ([]byte, error) {
	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)
	md.H1(desc.Title)
	md.PlainText("")
	if desc.Description != "" {
		md.PlainText(desc.Description)
		md.PlainText("")
	}
	md.PlainText("Generated " + result.GeneratedAt.UTC().Format(time.RFC3339))
	md.PlainText("")
	header := columnNames(columns)
	for i, h := range header {
		header[i] = markdownCell.Replace(h)
	}
	rows := make([][]string, len(result.Rows))
	for i, row := range result.Rows {
		line := cells(columns, row)
		for j, c := range line {
			line[j] = markdownCell.Replace(c)
		}
		rows[i] = line
	}
	md.Table(markdown.TableSet{Header: header, Rows: rows})
	if err := md.Build(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case float32:
		return fmt.Sprintf("%g", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprint(v)
	}
}
