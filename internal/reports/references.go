package reports

import (
	"context"
	"fmt"

	"reportsdb/internal/rowmap"
	"reportsdb/pkg/reportapi"
)

var referenceColumns = textColumns(
	"MGI Marker Accession ID", "Marker Symbol", "Marker Name",
	"Marker Synonyms (pipe-separated)", "PubMed IDs (pipe-separated)",
)

func markerReferences() reportapi.Report {
	return reportapi.Report{
		Key:           "mrk_reference",
		Version:       "1.0.0",
		Title:         "Mouse Genetic Markers with PubMed IDs",
		Description:   "Official mouse markers and the PubMed IDs of their curated references.",
		Filename:      "MRK_Reference.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       referenceColumns,
		Metadata:      metadata("mrk_marker,mgi_reference_assoc,bib_citation_cache", "markers", "references"),
		OutputFormats: tabularFormats,
		Binder:        bind(runMarkerReferences),
	}
}

func runMarkerReferences(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	refRows, err := s.Query(ctx, `select distinct r._object_key, c.pubmedid
		from mgi_reference_assoc r
		join bib_citation_cache c on c._refs_key = r._refs_key
		where r._mgitype_key = 2 and c.pubmedid is not null
		order by r._object_key, c.pubmedid`)
	if err != nil {
		return nil, fmt.Errorf("load marker pubmed ids: %w", err)
	}
	pubmed := rowmap.GroupUniqueRows(refRows, "_object_key", "pubmedid")
	synonyms, err := markerSynonyms(ctx, s)
	if err != nil {
		return nil, err
	}
	markers, err := loadMarkers(ctx, s, markerFilter{OfficialOnly: true})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for _, m := range markers {
		if !pubmed.Has(m.Key) {
			continue
		}
		rows = append(rows, record(referenceColumns,
			m.MGIID, m.Symbol, m.Name, synonyms.Join(m.Key, pipe), pubmed.Join(m.Key, pipe)))
	}
	return rows, nil
}
