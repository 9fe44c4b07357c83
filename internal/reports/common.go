package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"reportsdb/internal/accession"
	"reportsdb/internal/logging"
	"reportsdb/internal/reportlib"
	"reportsdb/internal/rowmap"
	"reportsdb/pkg/reportapi"
)

const (
	pipe  = "|"
	comma = ","
)

var (
	tabularFormats = []reportapi.Format{
		reportapi.FormatTab, reportapi.FormatCSV, reportapi.FormatJSON, reportapi.FormatHTML,
		reportapi.FormatParquet, reportapi.FormatXLSX, reportapi.FormatMarkdown,
	}
	flatFormats = []reportapi.Format{reportapi.FormatTab, reportapi.FormatCSV, reportapi.FormatJSON}
)

// runFunc is the body of a report: query, fold, format.
type runFunc func(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error)

// bind wraps a runFunc into a Binder that stamps generation time and logs row counts.
func bind(run runFunc) reportapi.Binder {
	return func(env reportapi.Environment) (reportapi.Runner, error) {
		now := env.Now
		if now == nil {
			now = time.Now
		}
		logger := logging.OrNop(env.Logger)
		return func(ctx context.Context, req reportapi.RunRequest) (reportapi.RunResult, error) {
			if req.Session == nil {
				return reportapi.RunResult{}, errors.New("reports: session required")
			}
			generated := now()
			rows, err := run(ctx, req)
			if err != nil {
				return reportapi.RunResult{}, fmt.Errorf("%s: %w", req.Report.Slug, err)
			}
			if rows == nil {
				rows = []map[string]any{}
			}
			logger.Debug("report rows built", zap.String("report", req.Report.Slug), zap.Int("rows", len(rows)))
			return reportapi.RunResult{Schema: req.Report.Columns, Rows: rows, GeneratedAt: generated}, nil
		}, nil
	}
}

func textColumns(names ...string) []reportapi.Column {
	cols := make([]reportapi.Column, len(names))
	for i, name := range names {
		cols[i] = reportapi.Column{Name: name, Type: "string"}
	}
	return cols
}

// record pairs values with column names positionally; missing values are "".
func record(cols []reportapi.Column, values ...string) map[string]any {
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		if i < len(values) {
			row[col.Name] = values[i]
		} else {
			row[col.Name] = ""
		}
	}
	return row
}

func boolParam(params map[string]any, name string) bool {
	v, _ := params[name].(bool)
	return v
}

func stringParam(params map[string]any, name string) string {
	v, _ := params[name].(string)
	return strings.TrimSpace(v)
}

func rawJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func metadata(tables string, tags ...string) reportapi.Metadata {
	return reportapi.Metadata{
		Source:          "mgd",
		RefreshInterval: "weekly",
		Tags:            tags,
		Annotations:     map[string]string{"tables": tables},
	}
}

// marker is one mouse marker with its preferred MGI ID and map position.
type marker struct {
	Key               int64
	MGIID             string
	Symbol            string
	Name              string
	Status            string
	Type              string
	Chromosome        string
	CM                string
	Start             string
	End               string
	Strand            string
	GenomicChromosome string
	Build             string
	Provider          string
	Official          bool
	HasCoordinates    bool
}

// StatusCode is the one-letter status printed in marker lists.
func (m marker) StatusCode() string {
	switch {
	case m.Official:
		return "O"
	case strings.EqualFold(m.Status, "withdrawn"):
		return "W"
	case m.Status == "":
		return ""
	}
	return strings.ToUpper(m.Status[:1])
}

// SeqChromosome prefers the genomic chromosome over the genetic one.
func (m marker) SeqChromosome() string {
	if m.GenomicChromosome != "" {
		return m.GenomicChromosome
	}
	return m.Chromosome
}

type markerFilter struct {
	OfficialOnly bool
	Chromosome   string // matched against SeqChromosome
}

const markerQuery = `select m._marker_key, m.symbol, m.name, m.chromosome, m._marker_status_key,
		s.status, t.name as markertype, a.accid as mgiid,
		c.cmoffset, c.startcoordinate, c.endcoordinate, c.strand,
		c.genomicchromosome, c.version, c.provider
	from mrk_marker m
	join mrk_status s on s._marker_status_key = m._marker_status_key
	join mrk_types t on t._marker_type_key = m._marker_type_key
	left outer join acc_accession a on a._object_key = m._marker_key
		and a._mgitype_key = 2 and a._logicaldb_key = 1 and a.prefixpart = 'MGI:'
		and a.preferred = 1 and a.private = 0
	left outer join mrk_location_cache c on c._marker_key = m._marker_key
	where m._organism_key = 1`

// loadMarkers returns mouse markers sorted by symbol.
func loadMarkers(ctx context.Context, session reportapi.Session, f markerFilter) ([]marker, error) {
	query := markerQuery
	var args []any
	if f.OfficialOnly {
		query += " and m._marker_status_key = 1"
	}
	if f.Chromosome != "" {
		args = append(args, f.Chromosome)
		query += " and coalesce(nullif(c.genomicchromosome, ''), m.chromosome) = $1"
	}
	query += " order by m._marker_key"
	rows, err := session.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load markers: %w", err)
	}
	out := make([]marker, 0, len(rows))
	for _, row := range rows {
		out = append(out, marker{
			Key:               row.Int("_marker_key"),
			MGIID:             row.String("mgiid"),
			Symbol:            row.String("symbol"),
			Name:              row.String("name"),
			Status:            row.String("status"),
			Type:              row.String("markertype"),
			Chromosome:        row.String("chromosome"),
			CM:                reportlib.CM(row, "cmoffset"),
			Start:             reportlib.Coordinate(row, "startcoordinate"),
			End:               reportlib.Coordinate(row, "endcoordinate"),
			Strand:            row.String("strand"),
			GenomicChromosome: row.String("genomicchromosome"),
			Build:             row.String("version"),
			Provider:          row.String("provider"),
			Official:          row.Int("_marker_status_key") == 1,
			HasCoordinates:    !row.IsNull("startcoordinate") && !row.IsNull("endcoordinate"),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// markerSynonyms maps marker key to exact synonyms in alphabetical order.
func markerSynonyms(ctx context.Context, session reportapi.Session) (*rowmap.Multi[int64], error) {
	rows, err := session.Query(ctx, `select s._object_key, s.synonym
		from mgi_synonym s
		join mgi_synonymtype st on st._synonymtype_key = s._synonymtype_key
		where s._mgitype_key = 2 and st._mgitype_key = 2 and st.synonymtype = 'exact'
		order by s._object_key, s.synonym`)
	if err != nil {
		return nil, fmt.Errorf("load marker synonyms: %w", err)
	}
	return rowmap.GroupUniqueRows(rows, "_object_key", "synonym"), nil
}

// featureTypes maps marker key to its MCV feature type terms.
func featureTypes(ctx context.Context, session reportapi.Session) (*rowmap.Multi[int64], error) {
	rows, err := session.Query(ctx, `select va._object_key, t.term
		from voc_annot va
		join voc_term t on t._term_key = va._term_key
		where va._annottype_key = 1011
		order by va._object_key, t.term`)
	if err != nil {
		return nil, fmt.Errorf("load feature types: %w", err)
	}
	return rowmap.GroupUniqueRows(rows, "_object_key", "term"), nil
}

// markerIDs loads one logical DB's marker accession IDs.
func markerIDs(ctx context.Context, session reportapi.Session, logicalDB int) (*rowmap.Multi[int64], error) {
	return accession.Lookup(ctx, session, accession.Filter{
		MGIType:   accession.TypeMarker,
		LogicalDB: logicalDB,
	})
}

// first returns the first value or "".
func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
