package intel

import (
	"slices"
	"sort"

	"github.com/nao1215/onionharvest/internal/model"
)

// Summary aggregates the intelligence of a whole run.
type Summary struct {
	Pages         int
	TotalIOCs     int
	ElevatedPages int
	PGPPages      int
	Distribution  map[model.RiskLabel]int
	CategoryPages map[string]int
	Registry      map[model.IOCKind][]string
}

// Count returns the number of distinct values of kind across the run.
func (s *Summary) Count(kind model.IOCKind) int {
	return len(s.Registry[kind])
}

// TopCategories returns up to n categories ordered by the number of pages
// in which they were relevant.
func (s *Summary) TopCategories(n int) []string {
	names := make([]string, 0, len(s.CategoryPages))
	for name := range s.CategoryPages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := s.CategoryPages[names[i]], s.CategoryPages[names[j]]
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// Summarize builds a run-level Summary from accepted page records.
func Summarize(records []model.PageRecord) Summary {
	s := Summary{
		Pages:         len(records),
		Distribution:  make(map[model.RiskLabel]int, len(model.RiskLabels)),
		CategoryPages: make(map[string]int),
		Registry:      make(map[model.IOCKind][]string, len(model.IOCKinds)),
	}
	for _, label := range model.RiskLabels {
		s.Distribution[label] = 0
	}

	sets := make(map[model.IOCKind]map[string]struct{}, len(model.IOCKinds))
	for _, kind := range model.IOCKinds {
		sets[kind] = make(map[string]struct{})
	}

	for i := range records {
		intel := &records[i].Intel
		s.TotalIOCs += intel.IOCs.Total()
		s.Distribution[intel.Threat.Label]++
		if intel.Threat.Label.IsElevated() {
			s.ElevatedPages++
		}
		if intel.IOCs.PGPBlock {
			s.PGPPages++
		}
		for _, cat := range intel.Threat.Categories {
			s.CategoryPages[cat]++
		}
		for _, kind := range model.IOCKinds {
			for _, v := range intel.IOCs.Values(kind) {
				sets[kind][v] = struct{}{}
			}
		}
	}

	for kind, set := range sets {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		slices.Sort(values)
		s.Registry[kind] = values
	}
	return s
}
