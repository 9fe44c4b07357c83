package reports

import (
	"context"
	"fmt"
	"strings"

	"reportsdb/internal/accession"
	"reportsdb/internal/reportlib"
	"reportsdb/internal/rowmap"
	"reportsdb/pkg/reportapi"
)

var (
	sequenceColumns = textColumns(
		"MGI Marker Accession ID", "Marker Symbol", "Status", "Marker Type", "Marker Name",
		"cM Position", "Chromosome", "genome coordinate start", "genome coordinate end", "strand",
		"GenBank Accession IDs", "RefSeq transcript IDs", "UniProt IDs",
	)
	proteinColumns = textColumns(
		"MGI Marker Accession ID", "Marker Symbol", "Status", "Marker Name", "cM Position",
		"Chromosome", "SwissProt/TrEMBL Protein Accession IDs (space-delimited)",
	)
	ensemblColumns = textColumns(
		"MGI Marker Accession ID", "Marker Symbol", "Marker Name", "cM Position", "Chromosome",
		"Ensembl Gene ID", "Ensembl Transcript IDs (space-delimited)",
		"Ensembl Protein IDs (space-delimited)", "Feature Types",
		"genome coordinate start", "genome coordinate end", "strand",
	)
	entrezColumns = textColumns(
		"MGI Marker Accession ID", "Marker Symbol", "Status", "Marker Name", "cM Position",
		"Chromosome", "Type", "Secondary Accession IDs (pipe-delimited)", "Entrez Gene ID",
		"Synonyms (pipe-delimited)", "Feature Types (pipe-delimited)",
		"Genome Coordinate Start", "Genome Coordinate End", "Strand",
	)
)

// staged marker table for the sequence report; dropped with the session.
const sequenceMarkers = "mrk_seq_markers"

func markerSequences() reportapi.Report {
	return reportapi.Report{
		Key:           "mrk_sequence",
		Version:       "1.0.0",
		Title:         "Mouse Markers with GenBank, RefSeq and UniProt Sequence IDs",
		Description:   "Official mouse markers that carry at least one nucleotide or protein sequence ID.",
		Filename:      "MRK_Sequence.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       sequenceColumns,
		Metadata:      metadata("mrk_marker,acc_accession", "markers", "sequences"),
		OutputFormats: tabularFormats,
		Binder:        bind(runMarkerSequences),
	}
}

func runMarkerSequences(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	err := s.TempTable(ctx, sequenceMarkers, `select m._marker_key
		from mrk_marker m
		where m._organism_key = 1 and m._marker_status_key = 1
		and exists (select 1 from acc_accession a
			where a._object_key = m._marker_key and a._mgitype_key = 2
			and a._logicaldb_key in (9, 13, 27, 41) and a.private = 0)`)
	if err != nil {
		return nil, err
	}
	if err := s.Index(ctx, sequenceMarkers, "_marker_key"); err != nil {
		return nil, err
	}
	idRows, err := s.Query(ctx, `select a._object_key, a._logicaldb_key, a.accid
		from `+sequenceMarkers+` t
		join acc_accession a on a._object_key = t._marker_key
		where a._mgitype_key = 2 and a._logicaldb_key in (9, 13, 27, 41) and a.private = 0
		order by a._object_key, a._logicaldb_key, a.accid`)
	if err != nil {
		return nil, fmt.Errorf("load sequence ids: %w", err)
	}
	genbank := rowmap.NewUniqueMulti[int64]()
	refseq := rowmap.NewUniqueMulti[int64]()
	uniprot := rowmap.NewUniqueMulti[int64]()
	for _, row := range idRows {
		key, id := row.Int("_object_key"), row.String("accid")
		switch row.Int("_logicaldb_key") {
		case accession.LogicalGenBank:
			genbank.Add(key, id)
		case accession.LogicalRefSeq:
			refseq.Add(key, id)
		case accession.LogicalSwissProt, accession.LogicalTrEMBL:
			uniprot.Add(key, id)
		}
	}
	markers, err := loadMarkers(ctx, s, markerFilter{OfficialOnly: true})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for _, m := range markers {
		if !genbank.Has(m.Key) && !refseq.Has(m.Key) && !uniprot.Has(m.Key) {
			continue
		}
		rows = append(rows, record(sequenceColumns,
			m.MGIID, m.Symbol, m.StatusCode(), m.Type, m.Name, m.CM, m.Chromosome,
			m.Start, m.End, m.Strand,
			genbank.Join(m.Key, pipe), refseq.Join(m.Key, pipe), uniprot.Join(m.Key, pipe)))
	}
	return rows, nil
}

func markerProteins() reportapi.Report {
	return reportapi.Report{
		Key:           "mrk_swissprot_trembl",
		Version:       "1.0.0",
		Title:         "Mouse Markers with SwissProt and TrEMBL Protein IDs",
		Description:   "Official mouse markers and their UniProt protein accession IDs.",
		Filename:      "MRK_SwissProt_TrEMBL.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       proteinColumns,
		Metadata:      metadata("mrk_marker,acc_accession", "markers", "proteins"),
		OutputFormats: tabularFormats,
		Binder:        bind(runMarkerProteins),
	}
}

func runMarkerProteins(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	swissprot, err := markerIDs(ctx, s, accession.LogicalSwissProt)
	if err != nil {
		return nil, err
	}
	trembl, err := markerIDs(ctx, s, accession.LogicalTrEMBL)
	if err != nil {
		return nil, err
	}
	markers, err := loadMarkers(ctx, s, markerFilter{OfficialOnly: true})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for _, m := range markers {
		ids := append(append([]string(nil), swissprot.Get(m.Key)...), trembl.Get(m.Key)...)
		if len(ids) == 0 {
			continue
		}
		rows = append(rows, record(proteinColumns,
			m.MGIID, m.Symbol, m.StatusCode(), m.Name, m.CM, m.Chromosome,
			strings.Join(ids, reportlib.SPACE)))
	}
	return rows, nil
}

func markerEnsembl() reportapi.Report {
	return reportapi.Report{
		Key:           "mrk_ensembl",
		Version:       "1.0.0",
		Title:         "MGI Marker associations to Ensembl sequence data",
		Description:   "Official mouse markers with Ensembl gene, transcript and protein IDs.",
		Filename:      "MRK_ENSEMBL.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       ensemblColumns,
		Metadata:      metadata("mrk_marker,acc_accession,voc_annot", "markers", "ensembl"),
		OutputFormats: tabularFormats,
		Binder:        bind(runMarkerEnsembl),
	}
}

func runMarkerEnsembl(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	genes, err := markerIDs(ctx, s, accession.LogicalEnsemblGene)
	if err != nil {
		return nil, err
	}
	transcripts, err := markerIDs(ctx, s, accession.LogicalEnsemblTranscript)
	if err != nil {
		return nil, err
	}
	proteins, err := markerIDs(ctx, s, accession.LogicalEnsemblProtein)
	if err != nil {
		return nil, err
	}
	features, err := featureTypes(ctx, s)
	if err != nil {
		return nil, err
	}
	markers, err := loadMarkers(ctx, s, markerFilter{OfficialOnly: true})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for _, m := range markers {
		if !genes.Has(m.Key) {
			continue
		}
		rows = append(rows, record(ensemblColumns,
			m.MGIID, m.Symbol, m.Name, m.CM, m.Chromosome,
			first(genes.Get(m.Key)),
			transcripts.Join(m.Key, reportlib.SPACE),
			proteins.Join(m.Key, reportlib.SPACE),
			features.Join(m.Key, pipe),
			m.Start, m.End, m.Strand))
	}
	return rows, nil
}

func entrezGene() reportapi.Report {
	return reportapi.Report{
		Key:           "mgi_entrezgene",
		Version:       "1.0.0",
		Title:         "MGI Marker associations to Entrez Gene",
		Description:   "All mouse markers with secondary MGI IDs, Entrez Gene IDs, synonyms and coordinates.",
		Filename:      "MGI_EntrezGene.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       entrezColumns,
		Metadata:      metadata("mrk_marker,acc_accession,mgi_synonym,voc_annot", "markers", "entrezgene"),
		OutputFormats: tabularFormats,
		Binder:        bind(runEntrezGene),
	}
}

func runEntrezGene(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	secondary, err := accession.Lookup(ctx, s, accession.Filter{
		MGIType:   accession.TypeMarker,
		LogicalDB: accession.LogicalMGI,
		Prefix:    accession.MGIPrefix,
		Preferred: accession.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	entrez, err := markerIDs(ctx, s, accession.LogicalEntrezGene)
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
	markers, err := loadMarkers(ctx, s, markerFilter{})
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(markers))
	for _, m := range markers {
		rows = append(rows, record(entrezColumns,
			m.MGIID, m.Symbol, m.StatusCode(), m.Name, m.CM, m.Chromosome, m.Type,
			secondary.Join(m.Key, pipe),
			first(entrez.Get(m.Key)),
			synonyms.Join(m.Key, pipe),
			features.Join(m.Key, pipe),
			m.Start, m.End, m.Strand))
	}
	return rows, nil
}
