// Package reports holds the MGI report catalog and its report definitions.
package reports

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"reportsdb/pkg/reportapi"
)

// ErrReportNotFound is returned when a slug or key matches no report.
var ErrReportNotFound = errors.New("report not found")

// Catalog stores report definitions keyed by slug.
type Catalog struct {
	mu      sync.RWMutex
	reports map[string]*reportapi.HostReport
}

func NewCatalog() *Catalog {
	return &Catalog{reports: make(map[string]*reportapi.HostReport)}
}

// Register validates rpt and adds it. A slug may only be registered once.
func (c *Catalog) Register(rpt reportapi.Report) error {
	host, err := reportapi.NewHostReport(rpt)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	slug := host.Slug()
	if _, exists := c.reports[slug]; exists {
		return fmt.Errorf("report %s already registered", slug)
	}
	c.reports[slug] = &host
	return nil
}

// Bind attaches runners for every registered report.
func (c *Catalog) Bind(env reportapi.Environment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slug := range c.sortedSlugsLocked() {
		if err := c.reports[slug].Bind(env); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors lists every report sorted by key then version.
func (c *Catalog) Descriptors() []reportapi.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]reportapi.Descriptor, 0, len(c.reports))
	for _, host := range c.reports {
		out = append(out, host.Descriptor())
	}
	reportapi.SortDescriptors(out)
	return out
}

// Resolve finds a report by slug, or by bare key picking the highest version.
func (c *Catalog) Resolve(ref string) (reportapi.HostReport, bool) {
	ref = strings.TrimSpace(ref)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if host, ok := c.reports[ref]; ok {
		return *host, true
	}
	var best *reportapi.HostReport
	for _, host := range c.reports {
		rpt := host.Report()
		if !strings.EqualFold(rpt.Key, ref) {
			continue
		}
		if best == nil || compareVersions(rpt.Version, best.Report().Version) > 0 {
			best = host
		}
	}
	if best == nil {
		return reportapi.HostReport{}, false
	}
	return *best, true
}

// Lookup is Resolve returning ErrReportNotFound.
func (c *Catalog) Lookup(ref string) (reportapi.HostReport, error) {
	host, ok := c.Resolve(ref)
	if !ok {
		return reportapi.HostReport{}, fmt.Errorf("%w: %s", ErrReportNotFound, ref)
	}
	return host, nil
}

// Len is the number of registered reports.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reports)
}

func (c *Catalog) sortedSlugsLocked() []string {
	slugs := make([]string, 0, len(c.reports))
	for slug := range c.reports {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// compareVersions orders dotted numeric versions; non-numeric parts compare as text.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y string
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x == y {
			continue
		}
		var nx, ny int
		_, errX := fmt.Sscanf(x, "%d", &nx)
		_, errY := fmt.Sscanf(y, "%d", &ny)
		if errX == nil && errY == nil && nx != ny {
			if nx < ny {
				return -1
			}
			return 1
		}
		if x < y {
			return -1
		}
		return 1
	}
	return 0
}
