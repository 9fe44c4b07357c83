package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"reportsdb/pkg/reportapi"
)

var (
	gafColumns = textColumns(
		"DB", "DB Object ID", "DB Object Symbol", "Qualifier", "GO ID", "DB:Reference",
		"Evidence Code", "With (or) From", "Aspect", "DB Object Name", "DB Object Synonym",
		"DB Object Type", "Taxon", "Date", "Assigned By", "Annotation Extension",
		"Gene Product Form ID",
	)
	goTermColumns = textColumns("Aspect", "GO ID", "Term")
)

const (
	mouseTaxon = "taxon:10090"
	gafDB      = "MGI"
)

// defaultQualifiers is the GAF 2.2 relation used when an annotation carries none.
var defaultQualifiers = map[string]string{
	"F": "enables",
	"P": "involved_in",
	"C": "located_in",
}

func geneAssociation() reportapi.Report {
	return reportapi.Report{
		Key:          "gene_association",
		Version:      "2.2.0",
		Title:        "MGI GO annotations",
		Description:  "GO annotations of official mouse markers in GAF 2.2.",
		Filename:     "gene_association.mgi",
		Header:       reportapi.HeaderGAF,
		ColumnHeader: false,
		Parameters: []reportapi.Parameter{{
			Name:        "exclude_iea",
			Type:        "boolean",
			Description: "drop inferred-from-electronic-annotation evidence",
			Default:     rawJSON(false),
		}},
		Columns:       gafColumns,
		Metadata:      metadata("voc_annot,voc_evidence,dag_node,bib_citation_cache", "go", "gaf"),
		OutputFormats: []reportapi.Format{reportapi.FormatTab, reportapi.FormatJSON, reportapi.FormatParquet},
		Binder:        bind(runGeneAssociation),
	}
}

type gafLine struct {
	symbol   string
	goID     string
	evidence int64
	row      map[string]any
}

func runGeneAssociation(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	annots, err := s.Query(ctx, `select e._annotevidence_key, a._object_key, m.symbol, m.name,
			ma.accid as markerid, ta.accid as goid, q.term as qualifier, d.abbreviation as aspect,
			ev.abbreviation as evidence, e.inferredfrom, e.modification_date, u.login,
			c.mgiid as refid, c.pubmedid
		from voc_annot a
		join mrk_marker m on m._marker_key = a._object_key
			and m._organism_key = 1 and m._marker_status_key = 1
		join acc_accession ma on ma._object_key = m._marker_key and ma._mgitype_key = 2
			and ma._logicaldb_key = 1 and ma.prefixpart = 'MGI:' and ma.preferred = 1 and ma.private = 0
		join acc_accession ta on ta._object_key = a._term_key and ta._mgitype_key = 13
			and ta._logicaldb_key = 31 and ta.preferred = 1
		join dag_node n on n._object_key = a._term_key
		join dag_dag d on d._dag_key = n._dag_key
		join voc_evidence e on e._annot_key = a._annot_key
		join voc_term ev on ev._term_key = e._evidenceterm_key
		join bib_citation_cache c on c._refs_key = e._refs_key
		join mgi_user u on u._user_key = e._modifiedby_key
		left outer join voc_term q on q._term_key = a._qualifier_key
		where a._annottype_key = 1000
		order by e._annotevidence_key`)
	if err != nil {
		return nil, fmt.Errorf("load go annotations: %w", err)
	}
	synonyms, err := markerSynonyms(ctx, s)
	if err != nil {
		return nil, err
	}
	features, err := featureTypes(ctx, s)
	if err != nil {
		return nil, err
	}
	excludeIEA := boolParam(req.Parameters, "exclude_iea")
	lines := make([]gafLine, 0, len(annots))
	for _, a := range annots {
		evidence := a.String("evidence")
		if excludeIEA && evidence == "IEA" {
			continue
		}
		key := a.Int("_object_key")
		aspect := a.String("aspect")
		qualifier := a.String("qualifier")
		if qualifier == "" {
			qualifier = defaultQualifiers[aspect]
		}
		date := ""
		if ts, ok := a.Time("modification_date"); ok {
			date = ts.Format("20060102")
		}
		lines = append(lines, gafLine{
			symbol:   a.String("symbol"),
			goID:     a.String("goid"),
			evidence: a.Int("_annotevidence_key"),
			row: record(gafColumns,
				gafDB,
				a.String("markerid"),
				a.String("symbol"),
				qualifier,
				a.String("goid"),
				gafReference(a.String("refid"), a.String("pubmedid")),
				evidence,
				a.String("inferredfrom"),
				aspect,
				a.String("name"),
				synonyms.Join(key, pipe),
				objectType(first(features.Get(key))),
				mouseTaxon,
				date,
				assignedBy(a.String("login")),
				"",
				"",
			),
		})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].symbol != lines[j].symbol {
			return lines[i].symbol < lines[j].symbol
		}
		if lines[i].goID != lines[j].goID {
			return lines[i].goID < lines[j].goID
		}
		return lines[i].evidence < lines[j].evidence
	})
	rows := make([]map[string]any, len(lines))
	for i, line := range lines {
		rows[i] = line.row
	}
	return rows, nil
}

func gafReference(mgiID, pubmedID string) string {
	if pubmedID == "" {
		return mgiID
	}
	return mgiID + pipe + "PMID:" + pubmedID
}

// objectType renders an MCV feature type as a GAF DB Object Type.
func objectType(feature string) string {
	if feature == "" {
		return "gene"
	}
	return strings.ReplaceAll(feature, " ", "_")
}

func assignedBy(login string) string {
	if strings.HasPrefix(login, "GO_") {
		return login
	}
	return gafDB
}

func goTerms() reportapi.Report {
	return reportapi.Report{
		Key:          "go_terms",
		Version:      "1.0.0",
		Title:        "GO terms",
		Description:  "Aspect, GO ID and term name for every GO term.",
		Filename:     "go_terms.mgi",
		Header:       reportapi.HeaderNone,
		ColumnHeader: false,
		Parameters: []reportapi.Parameter{{
			Name:        "include_obsolete",
			Type:        "boolean",
			Description: "also list obsolete terms",
			Default:     rawJSON(false),
		}},
		Columns:       goTermColumns,
		Metadata:      metadata("voc_term,dag_node,dag_dag", "go"),
		OutputFormats: flatFormats,
		Binder:        bind(runGoTerms),
	}
}

func runGoTerms(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	query := `select d.name as aspect, a.accid, t.term
		from voc_term t
		join acc_accession a on a._object_key = t._term_key and a._mgitype_key = 13
			and a._logicaldb_key = 31 and a.preferred = 1
		join dag_node n on n._object_key = t._term_key
		join dag_dag d on d._dag_key = n._dag_key
		where t._vocab_key = 4`
	if !boolParam(req.Parameters, "include_obsolete") {
		query += " and t.isobsolete = 0"
	}
	query += " order by a.accid"
	terms, err := req.Session.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load go terms: %w", err)
	}
	rows := make([]map[string]any, 0, len(terms))
	for _, t := range terms {
		rows = append(rows, record(goTermColumns, t.String("aspect"), t.String("accid"), t.String("term")))
	}
	return rows, nil
}
