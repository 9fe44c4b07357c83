// Package accession handles MGI accession IDs and their ACC_Accession lookups.
package accession

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"reportsdb/internal/rowmap"
	"reportsdb/pkg/reportapi"
)

// Logical databases (ACC_LogicalDB._LogicalDB_key).
const (
	LogicalMGI               = 1
	LogicalGenBank           = 9
	LogicalSwissProt         = 13
	LogicalRefSeq            = 27
	LogicalPubMed            = 29
	LogicalGO                = 31
	LogicalMP                = 34
	LogicalTrEMBL            = 41
	LogicalEntrezGene        = 55
	LogicalEnsemblGene       = 60
	LogicalHGNC              = 64
	LogicalEnsemblTranscript = 133
	LogicalEnsemblProtein    = 134
)

// MGI types (ACC_MGIType._MGIType_key).
const (
	TypeReference = 1
	TypeMarker    = 2
	TypeStrain    = 10
	TypeAllele    = 11
	TypeGenotype  = 12
	TypeTerm      = 13
)

// MGIPrefix is the prefix part of MGI accession IDs.
const MGIPrefix = "MGI:"

// Split separates an accession ID into its prefix and trailing numeric part.
// IDs without trailing digits keep the whole ID as prefix and return 0.
func Split(accID string) (string, int64) {
	i := len(accID)
	for i > 0 && accID[i-1] >= '0' && accID[i-1] <= '9' {
		i--
	}
	if i == len(accID) {
		return accID, 0
	}
	n, err := strconv.ParseInt(accID[i:], 10, 64)
	if err != nil {
		return accID, 0
	}
	return accID[:i], n
}

// Format joins a prefix and numeric part.
func Format(prefix string, n int64) string {
	return prefix + strconv.FormatInt(n, 10)
}

// IsMGI reports whether accID is an MGI accession ID.
func IsMGI(accID string) bool {
	prefix, n := Split(accID)
	return prefix == MGIPrefix && n > 0
}

// Filter narrows a Lookup.
type Filter struct {
	MGIType        int
	LogicalDB      int
	Prefix         string // optional prefixPart match, e.g. "MGI:"
	Preferred      *bool  // nil matches both
	IncludePrivate bool
}

// Lookup loads accession IDs for one MGI type and logical DB keyed by object.
// IDs for an object appear in accession order and without repeats.
func Lookup(ctx context.Context, session reportapi.Session, f Filter) (*rowmap.Multi[int64], error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	where = append(where, "a._mgitype_key = "+arg(f.MGIType), "a._logicaldb_key = "+arg(f.LogicalDB))
	if f.Prefix != "" {
		where = append(where, "a.prefixpart = "+arg(f.Prefix))
	}
	if f.Preferred != nil {
		p := 0
		if *f.Preferred {
			p = 1
		}
		where = append(where, "a.preferred = "+arg(p))
	}
	if !f.IncludePrivate {
		where = append(where, "a.private = 0")
	}
	query := `select a._object_key, a.accid
		from acc_accession a
		where ` + strings.Join(where, " and ") + `
		order by a._object_key, a.prefixpart, a.numericpart, a.accid`
	rows, err := session.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup accessions type=%d ldb=%d: %w", f.MGIType, f.LogicalDB, err)
	}
	return rowmap.GroupUniqueRows(rows, "_object_key", "accid"), nil
}

// Bool returns a pointer for Filter.Preferred.
func Bool(b bool) *bool { return &b }
