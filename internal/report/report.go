package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/nao1215/onionharvest/internal/intel"
	"github.com/nao1215/onionharvest/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxHighRiskPages caps the high-risk page index.
const maxHighRiskPages = 50

// maxRegistryValues caps each IOC registry table.
const maxRegistryValues = 100

// Report is the input of every report writer: the accepted pages of one
// run and the aggregates derived from them.
type Report struct {
	Generated time.Time
	Version   string
	Records   []model.PageRecord

	// Run is nil when the report is rebuilt from stored pages of a run
	// whose summary was not recorded.
	Run *model.RunSummary

	Intel intel.Summary
}

// New builds a Report from accepted page records.
func New(records []model.PageRecord, run *model.RunSummary, version string) *Report {
	return &Report{
		Generated: time.Now().UTC(),
		Version:   version,
		Records:   records,
		Run:       run,
		Intel:     intel.Summarize(records),
	}
}

// SiteBreakdown aggregates the pages of one site.
type SiteBreakdown struct {
	Site       string
	Pages      int
	IOCs       int
	MaxScore   float64
	Label      model.RiskLabel
	Categories []string
}

// Sites groups the records by site, ordered by site name. The label of
// a site is the label of its highest scoring page.
func (r *Report) Sites() []SiteBreakdown {
	bySite := make(map[string]*SiteBreakdown)
	cats := make(map[string]map[string]struct{})
	for i := range r.Records {
		rec := &r.Records[i]
		sb, ok := bySite[rec.Site]
		if !ok {
			sb = &SiteBreakdown{Site: rec.Site, MaxScore: -1}
			bySite[rec.Site] = sb
			cats[rec.Site] = make(map[string]struct{})
		}
		sb.Pages++
		sb.IOCs += rec.Intel.IOCs.Total()
		if rec.RiskScore() > sb.MaxScore {
			sb.MaxScore = rec.RiskScore()
			sb.Label = rec.RiskLabel()
		}
		for _, c := range rec.Intel.Threat.Categories {
			cats[rec.Site][c] = struct{}{}
		}
	}

	out := make([]SiteBreakdown, 0, len(bySite))
	for site, sb := range bySite {
		for c := range cats[site] {
			sb.Categories = append(sb.Categories, c)
		}
		slices.Sort(sb.Categories)
		out = append(out, *sb)
	}
	slices.SortFunc(out, func(a, b SiteBreakdown) int {
		return cmp.Compare(a.Site, b.Site)
	})
	return out
}

// HighRisk returns the High and Critical pages, highest score first.
func (r *Report) HighRisk() []model.PageRecord {
	var out []model.PageRecord
	for _, rec := range r.Records {
		if rec.RiskLabel().IsElevated() {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b model.PageRecord) int {
		return cmp.Compare(b.RiskScore(), a.RiskScore())
	})
	if len(out) > maxHighRiskPages {
		out = out[:maxHighRiskPages]
	}
	return out
}

// RegistryEntry is one IOC family of the run-wide registry.
type RegistryEntry struct {
	Kind   model.IOCKind
	Title  string
	Total  int
	Values []string
}

// Registry returns the non-empty IOC families in report order. Each
// family lists at most maxRegistryValues values; Total is the full count.
func (r *Report) Registry() []RegistryEntry {
	var out []RegistryEntry
	for _, kind := range model.IOCKinds {
		values := r.Intel.Registry[kind]
		if len(values) == 0 {
			continue
		}
		entry := RegistryEntry{Kind: kind, Title: KindTitle(kind), Total: len(values), Values: values}
		if len(values) > maxRegistryValues {
			entry.Values = values[:maxRegistryValues]
		}
		out = append(out, entry)
	}
	return out
}

// kindAcronyms holds the display names that title casing would get wrong.
var kindAcronyms = map[model.IOCKind]string{
	model.IOCIPv4:   "IPv4",
	model.IOCMD5:    "MD5",
	model.IOCSHA1:   "SHA-1",
	model.IOCSHA256: "SHA-256",
	model.IOCCVE:    "CVE",
	model.IOCBTC:    "BTC",
	model.IOCXMR:    "XMR",
	model.IOCURL:    "URL",
}

// KindTitle returns the display name of an IOC family.
func KindTitle(kind model.IOCKind) string {
	if s, ok := kindAcronyms[kind]; ok {
		return s
	}
	return cases.Title(language.English).String(string(kind))
}
