package reports

import "reportsdb/pkg/reportapi"

// All returns every built-in report definition.
func All() []reportapi.Report {
	return []reportapi.Report{
		markerList1(),
		markerList2(),
		markerCoordinates(),
		markerSequences(),
		markerProteins(),
		markerEnsembl(),
		entrezGene(),
		markerReferences(),
		geneAssociation(),
		goTerms(),
		phenotypicAlleles(),
		strains(),
		humanPhenotypes(),
		genomeFeatures(),
	}
}

// NewDefaultCatalog registers All, skipping keys listed in exclude.
func NewDefaultCatalog(exclude ...string) (*Catalog, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, key := range exclude {
		skip[key] = struct{}{}
	}
	c := NewCatalog()
	for _, rpt := range All() {
		if _, ok := skip[rpt.Key]; ok {
			continue
		}
		if err := c.Register(rpt); err != nil {
			return nil, err
		}
	}
	return c, nil
}
