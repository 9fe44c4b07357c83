package reports

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"reportsdb/pkg/reportapi"
)

var gffColumns = textColumns("seqid", "source", "type", "start", "end", "score", "strand", "phase", "attributes")

// soTypes maps MCV feature types to Sequence Ontology terms.
var soTypes = map[string]string{
	"protein coding gene":    "protein_coding_gene",
	"pseudogene":             "pseudogene",
	"lncRNA gene":            "lncRNA_gene",
	"miRNA gene":             "miRNA_gene",
	"non-coding RNA gene":    "ncRNA_gene",
	"rRNA gene":              "rRNA_gene",
	"snoRNA gene":            "snoRNA_gene",
	"snRNA gene":             "snRNA_gene",
	"tRNA gene":              "tRNA_gene",
	"polymorphic pseudogene": "polymorphic_pseudogene",
}

var gffEscaper = strings.NewReplacer(
	"%", "%25", ";", "%3B", "=", "%3D", "&", "%26", ",", "%2C",
	"\t", "%09", "\n", "%0A", "\r", "%0D",
)

func genomeFeatures() reportapi.Report {
	return reportapi.Report{
		Key:          "mgi_gff3",
		Version:      "1.0.0",
		Title:        "MGI genome features",
		Description:  "Official mouse markers with genome coordinates as GFF3 features.",
		Filename:     "MGI.gff3",
		Header:       reportapi.HeaderGFF,
		ColumnHeader: false,
		Parameters: []reportapi.Parameter{{
			Name:        "chromosome",
			Type:        "string",
			Description: "restrict to one chromosome",
			Example:     json.RawMessage(`"X"`),
		}},
		Columns:       gffColumns,
		Metadata:      metadata("mrk_marker,mrk_location_cache,voc_annot", "markers", "gff3"),
		OutputFormats: []reportapi.Format{reportapi.FormatGFF, reportapi.FormatJSON},
		Binder:        bind(runGenomeFeatures),
	}
}

func runGenomeFeatures(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	markers, err := loadMarkers(ctx, s, markerFilter{
		OfficialOnly: true,
		Chromosome:   stringParam(req.Parameters, "chromosome"),
	})
	if err != nil {
		return nil, err
	}
	features, err := featureTypes(ctx, s)
	if err != nil {
		return nil, err
	}
	located := markers[:0]
	for _, m := range markers {
		if m.HasCoordinates {
			located = append(located, m)
		}
	}
	sort.SliceStable(located, func(i, j int) bool {
		ri, rj := chromosomeRank(located[i].SeqChromosome()), chromosomeRank(located[j].SeqChromosome())
		if ri != rj {
			return ri < rj
		}
		si, _ := strconv.ParseInt(located[i].Start, 10, 64)
		sj, _ := strconv.ParseInt(located[j].Start, 10, 64)
		return si < sj
	})
	rows := make([]map[string]any, 0, len(located))
	for _, m := range located {
		feature := first(features.Get(m.Key))
		strand := m.Strand
		if strand == "" {
			strand = "."
		}
		rows = append(rows, record(gffColumns,
			m.SeqChromosome(), "MGI", soType(feature, m.Type),
			m.Start, m.End, ".", strand, ".",
			gffAttributes(m, feature)))
	}
	return rows, nil
}

func soType(feature, markerType string) string {
	if t, ok := soTypes[feature]; ok {
		return t
	}
	if markerType == "Gene" {
		return "gene"
	}
	return "biological_region"
}

func gffAttributes(m marker, feature string) string {
	attrs := []string{
		"ID=" + gffEscaper.Replace(m.MGIID),
		"Name=" + gffEscaper.Replace(m.Symbol),
		"description=" + gffEscaper.Replace(m.Name),
	}
	if feature != "" {
		attrs = append(attrs, "mgi_type="+gffEscaper.Replace(feature))
	}
	return strings.Join(attrs, ";")
}

// chromosomeRank orders 1..19, X, Y, MT, then anything else.
func chromosomeRank(chr string) int {
	if n, err := strconv.Atoi(chr); err == nil && n > 0 {
		return n
	}
	switch strings.ToUpper(chr) {
	case "X":
		return 100
	case "Y":
		return 101
	case "MT":
		return 102
	}
	return 1000
}
