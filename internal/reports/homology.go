package reports

import (
	"context"
	"fmt"
	"sort"

	"reportsdb/internal/accession"
	"reportsdb/internal/reportlib"
	"reportsdb/internal/rowmap"
	"reportsdb/pkg/reportapi"
)

const (
	organismMouse = 1
	organismHuman = 2
)

var humanPhenotypeColumns = textColumns(
	"Human Marker Symbol", "Human Entrez Gene ID", "Mouse Marker Symbol",
	"MGI Marker Accession ID", "Mammalian Phenotype IDs (space-delimited)",
)

func humanPhenotypes() reportapi.Report {
	return reportapi.Report{
		Key:           "hmd_human_phenotype",
		Version:       "1.0.0",
		Title:         "Human and Mouse Homology with Mammalian Phenotype Annotations",
		Description:   "Human-mouse homology pairs with the MP terms annotated to the mouse gene's genotypes.",
		Filename:      "HMD_HumanPhenotype.rpt",
		Header:        reportapi.HeaderMGI,
		ColumnHeader:  true,
		Columns:       humanPhenotypeColumns,
		Metadata:      metadata("mrk_cluster,mrk_clustermember,gxd_allelegenotype,voc_annot", "homology", "phenotypes"),
		OutputFormats: tabularFormats,
		Binder:        bind(runHumanPhenotypes),
	}
}

type clusterMember struct {
	key    int64
	symbol string
}

func runHumanPhenotypes(ctx context.Context, req reportapi.RunRequest) ([]map[string]any, error) {
	s := req.Session
	members, err := s.Query(ctx, `select c._cluster_key, m._marker_key, m._organism_key, m.symbol
		from mrk_clustermember c
		join mrk_marker m on m._marker_key = c._marker_key
		where m._organism_key in (1, 2)
		order by c._cluster_key, c.sequencenum`)
	if err != nil {
		return nil, fmt.Errorf("load homology clusters: %w", err)
	}
	mpRows, err := s.Query(ctx, `select distinct g._marker_key, ta.accid
		from gxd_allelegenotype g
		join voc_annot va on va._object_key = g._genotype_key and va._annottype_key = 1002
		join acc_accession ta on ta._object_key = va._term_key and ta._mgitype_key = 13
			and ta._logicaldb_key = 34 and ta.preferred = 1
		order by g._marker_key, ta.accid`)
	if err != nil {
		return nil, fmt.Errorf("load marker phenotypes: %w", err)
	}
	phenotypes := rowmap.GroupUniqueRows(mpRows, "_marker_key", "accid")
	entrez, err := markerIDs(ctx, s, accession.LogicalEntrezGene)
	if err != nil {
		return nil, err
	}
	mgiIDs, err := accession.Lookup(ctx, s, accession.Filter{
		MGIType:   accession.TypeMarker,
		LogicalDB: accession.LogicalMGI,
		Prefix:    accession.MGIPrefix,
		Preferred: accession.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	mouse := make(map[int64][]clusterMember)
	human := make(map[int64][]clusterMember)
	var clusters []int64
	seen := make(map[int64]bool)
	for _, row := range members {
		cluster := row.Int("_cluster_key")
		if !seen[cluster] {
			seen[cluster] = true
			clusters = append(clusters, cluster)
		}
		member := clusterMember{key: row.Int("_marker_key"), symbol: row.String("symbol")}
		switch row.Int("_organism_key") {
		case organismMouse:
			mouse[cluster] = append(mouse[cluster], member)
		case organismHuman:
			human[cluster] = append(human[cluster], member)
		}
	}

	type pair struct{ human, mouse clusterMember }
	var pairs []pair
	for _, cluster := range clusters {
		for _, h := range human[cluster] {
			for _, m := range mouse[cluster] {
				pairs = append(pairs, pair{human: h, mouse: m})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].human.symbol != pairs[j].human.symbol {
			return pairs[i].human.symbol < pairs[j].human.symbol
		}
		return pairs[i].mouse.symbol < pairs[j].mouse.symbol
	})
	rows := make([]map[string]any, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, record(humanPhenotypeColumns,
			p.human.symbol,
			first(entrez.Get(p.human.key)),
			p.mouse.symbol,
			first(mgiIDs.Get(p.mouse.key)),
			phenotypes.Join(p.mouse.key, reportlib.SPACE),
		))
	}
	return rows, nil
}
