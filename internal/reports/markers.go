package reports

import (
	"context"
	"encoding/json"

	"reportsdb/pkg/reportapi"
)

var (
	markerListColumns = textColumns(
		"MGI Accession ID", "Chr", "cM Position", "genome coordinate start",
		"genome coordinate end", "strand", "Marker Symbol", "Status", "Marker Name",
		"Marker Type", "Feature Type", "Marker Synonyms (pipe-separated)",
	)
	officialListColumns = textColumns(
		"MGI Accession ID", "Chr", "cM Position", "genome coordinate start",
		"genome coordinate end", "strand", "Marker Symbol", "Marker Name",
		"Marker Type", "Feature Type", "Marker Synonyms (pipe-separated)",
	)
	coordColumns = textColumns(
		"MGI Marker Accession ID", "Marker Type", "Marker Symbol", "Marker Name",
		"Chromosome", "Start Coordinate", "End Coordinate", "Strand",
		"Genome Build", "Provider",
	)
)

func markerList1() reportapi.Report {
	return reportapi.Report{
		Key:           "mrk_list1",
		Version:       "1.0.0",
		Title:         "List of All Mouse Markers (including withdrawn symbols)",
		Description:   "Every mouse marker with map position, status, feature types and exact synonyms.",
		Filename:      "MRK_List1.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       markerListColumns,
		Metadata:      metadata("mrk_marker,mrk_location_cache,mgi_synonym,voc_annot", "markers"),
		OutputFormats: tabularFormats,
		Binder:        bind(runMarkerList(false)),
	}
}

func markerList2() reportapi.Report {
	return reportapi.Report{
		Key:           "mrk_list2",
		Version:       "1.0.0",
		Title:         "List of All Mouse Markers (excluding withdrawn symbols)",
		Description:   "Official mouse markers with map position, feature types and exact synonyms.",
		Filename:      "MRK_List2.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       officialListColumns,
		Metadata:      metadata("mrk_marker,mrk_location_cache,mgi_synonym,voc_annot", "markers"),
		OutputFormats: tabularFormats,
		Binder:        bind(runMarkerList(true)),
	}
}

func runMarkerList(officialOnly bool) runFunc {
	return func(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
		s := req.Session
		markers, err := loadMarkers(ctx, s, markerFilter{OfficialOnly: officialOnly})
		if err != nil {
			return nil, err
		}
		synonyms, err := markerSynonyms(ctx, s)
		if err != nil {
			return nil, err
		}
		features, err := featureTypes(ctx, s)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(markers))
		for _, m := range markers {
			values := []string{m.MGIID, m.Chromosome, m.CM, m.Start, m.End, m.Strand, m.Symbol}
			if officialOnly {
				values = append(values, m.Name, m.Type)
				rows = append(rows, record(officialListColumns, append(values,
					features.Join(m.Key, pipe), synonyms.Join(m.Key, pipe))...))
				continue
			}
			values = append(values, m.StatusCode(), m.Name, m.Type,
				features.Join(m.Key, pipe), synonyms.Join(m.Key, pipe))
			rows = append(rows, record(markerListColumns, values...))
		}
		return rows, nil
	}
}

func markerCoordinates() reportapi.Report {
	return reportapi.Report{
		Key:          "mgi_mrk_coord",
		Version:      "1.0.0",
		Title:        "MGI Marker Coordinates",
		Description:  "Genome coordinates, build and provider for official mouse markers.",
		Filename:     "MGI_MRK_Coord.rpt",
		Header:       reportapi.HeaderMGI,
		ColumnHeader: true,
		Parameters: []reportapi.Parameter{{
			Name:        "chromosome",
			Type:        "string",
			Description: "restrict to one chromosome",
			Example:     json.RawMessage(`"2"`),
		}},
		Columns:       coordColumns,
		Metadata:      metadata("mrk_marker,mrk_location_cache", "markers", "coordinates"),
		OutputFormats: tabularFormats,
		Binder:        bind(runMarkerCoordinates),
	}
}

func runMarkerCoordinates(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	markers, err := loadMarkers(ctx, req.Session, markerFilter{
		OfficialOnly: true,
		Chromosome:   stringParam(req.Parameters, "chromosome"),
	})
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(markers))
	for _, m := range markers {
		rows = append(rows, record(coordColumns,
			m.MGIID, m.Type, m.Symbol, m.Name, m.SeqChromosome(),
			m.Start, m.End, m.Strand, m.Build, m.Provider))
	}
	return rows, nil
}
