package reports

import (
	"context"
	"fmt"
	"sort"

	"reportsdb/internal/accession"
	"reportsdb/internal/rowmap"
	"reportsdb/pkg/reportapi"
)

var (
	phenotypicAlleleColumns = textColumns(
		"MGI Allele Accession ID", "Allele Symbol", "Allele Name", "Allele Type",
		"PubMed ID for original reference", "MGI Marker Accession ID", "Marker Symbol",
		"Marker RefSeq ID", "Marker Ensembl ID",
		"Mammalian Phenotype IDs (comma-delimited)", "Synonyms (pipe-delimited)", "Marker Name",
	)
	strainColumns = textColumns("MGI Strain ID", "Strain Name", "Strain Type")
)

func phenotypicAlleles() reportapi.Report {
	return reportapi.Report{
		Key:           "mgi_phenotypic_allele",
		Version:       "1.0.0",
		Title:         "MGI Phenotypic Alleles",
		Description:   "Approved mutant alleles with their markers, original references and MP annotations.",
		Filename:      "MGI_PhenotypicAllele.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       phenotypicAlleleColumns,
		Metadata:      metadata("all_allele,gxd_allelegenotype,voc_annot,mgi_reference_assoc", "alleles", "phenotypes"),
		OutputFormats: tabularFormats,
		Binder:        bind(runPhenotypicAlleles),
	}
}

func runPhenotypicAlleles(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	alleles, err := s.Query(ctx, `select a._allele_key, a._marker_key, a.symbol, a.name,
			t.term as alleletype, aa.accid as alleleid,
			m.symbol as markersymbol, m.name as markername, ma.accid as markerid
		from all_allele a
		join voc_term t on t._term_key = a._allele_type_key
		join voc_term st on st._term_key = a._allele_status_key
		join acc_accession aa on aa._object_key = a._allele_key and aa._mgitype_key = 11
			and aa._logicaldb_key = 1 and aa.prefixpart = 'MGI:' and aa.preferred = 1 and aa.private = 0
		left outer join mrk_marker m on m._marker_key = a._marker_key
		left outer join acc_accession ma on ma._object_key = a._marker_key and ma._mgitype_key = 2
			and ma._logicaldb_key = 1 and ma.prefixpart = 'MGI:' and ma.preferred = 1 and ma.private = 0
		where a.iswildtype = 0 and st.term = 'Approved'
		order by a._allele_key`)
	if err != nil {
		return nil, fmt.Errorf("load alleles: %w", err)
	}
	refRows, err := s.Query(ctx, `select r._object_key, c.pubmedid
		from mgi_reference_assoc r
		join mgi_refassoctype rt on rt._refassoctype_key = r._refassoctype_key
		join bib_citation_cache c on c._refs_key = r._refs_key
		where r._mgitype_key = 11 and rt.assoctype = 'Original'
		order by r._object_key, r._assoc_key`)
	if err != nil {
		return nil, fmt.Errorf("load original references: %w", err)
	}
	original := rowmap.NewFirstWinsIndex[int64, string]()
	for _, row := range refRows {
		original.Set(row.Int("_object_key"), row.String("pubmedid"))
	}
	mpRows, err := s.Query(ctx, `select distinct g._allele_key, ta.accid
		from gxd_allelegenotype g
		join voc_annot va on va._object_key = g._genotype_key and va._annottype_key = 1002
		join acc_accession ta on ta._object_key = va._term_key and ta._mgitype_key = 13
			and ta._logicaldb_key = 34 and ta.preferred = 1
		order by g._allele_key, ta.accid`)
	if err != nil {
		return nil, fmt.Errorf("load allele phenotypes: %w", err)
	}
	phenotypes := rowmap.GroupUniqueRows(mpRows, "_allele_key", "accid")
	synRows, err := s.Query(ctx, `select s._object_key, s.synonym
		from mgi_synonym s
		where s._mgitype_key = 11
		order by s._object_key, s.synonym`)
	if err != nil {
		return nil, fmt.Errorf("load allele synonyms: %w", err)
	}
	synonyms := rowmap.GroupUniqueRows(synRows, "_object_key", "synonym")
	refseq, err := markerIDs(ctx, s, accession.LogicalRefSeq)
	if err != nil {
		return nil, err
	}
	ensembl, err := markerIDs(ctx, s, accession.LogicalEnsemblGene)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(alleles, func(i, j int) bool {
		return alleles[i].String("symbol") < alleles[j].String("symbol")
	})
	rows := make([]map[string]any, 0, len(alleles))
	for _, a := range alleles {
		key, markerKey := a.Int("_allele_key"), a.Int("_marker_key")
		rows = append(rows, record(phenotypicAlleleColumns,
			a.String("alleleid"),
			a.String("symbol"),
			a.String("name"),
			a.String("alleletype"),
			original.Value(key),
			a.String("markerid"),
			a.String("markersymbol"),
			first(refseq.Get(markerKey)),
			first(ensembl.Get(markerKey)),
			phenotypes.Join(key, comma),
			synonyms.Join(key, pipe),
			a.String("markername"),
		))
	}
	return rows, nil
}

func strains() reportapi.Report {
	return reportapi.Report{
		Key:           "mgi_strain",
		Version:       "1.0.0",
		Title:         "MGI Strains",
		Description:   "Public strains with their MGI IDs and strain types.",
		Filename:      "MGI_Strain.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       strainColumns,
		Metadata:      metadata("prb_strain,acc_accession,voc_term", "strains"),
		OutputFormats: tabularFormats,
		Binder:        bind(runStrains),
	}
}

func runStrains(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	strainRows, err := req.Session.Query(ctx, `select s._strain_key, s.strain, t.term as straintype, a.accid
		from prb_strain s
		join voc_term t on t._term_key = s._straintype_key
		join acc_accession a on a._object_key = s._strain_key and a._mgitype_key = 10
			and a._logicaldb_key = 1 and a.prefixpart = 'MGI:' and a.preferred = 1 and a.private = 0
		where s.private = 0
		order by s._strain_key`)
	if err != nil {
		return nil, fmt.Errorf("load strains: %w", err)
	}
	sort.SliceStable(strainRows, func(i, j int) bool {
		return strainRows[i].String("strain") < strainRows[j].String("strain")
	})
	rows := make([]map[string]any, 0, len(strainRows))
	for _, s := range strainRows {
		rows = append(rows, record(strainColumns, s.String("accid"), s.String("strain"), s.String("straintype")))
	}
	return rows, nil
}
