package report

import (
	"embed"
	"html/template"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nao1215/onionharvest/internal/model"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var htmlTemplate = template.Must(template.New("report.html.tmpl").Funcs(template.FuncMap{
	"truncate":   truncateString,
	"score":      formatScore,
	"categories": formatCategories,
}).ParseFS(templateFS, "templates/report.html.tmpl"))

// HTMLWriter renders the self-contained HTML report.
type HTMLWriter struct {
	baseWriter
}

// NewHTMLWriter creates an HTMLWriter that outputs to the given writer.
func NewHTMLWriter(output io.Writer) *HTMLWriter {
	return &HTMLWriter{baseWriter: newBaseWriter(output)}
}

type statCard struct {
	Value int
	Label string
}

type distributionRow struct {
	Label   model.RiskLabel
	Count   int
	Percent int
}

type htmlView struct {
	Generated    string
	Version      string
	Pages        int
	Run          *model.RunSummary
	Cards        []statCard
	Distribution []distributionRow
	Registry     []RegistryEntry
	HighRisk     []model.PageRecord
	Sites        []SiteBreakdown
	Records      []model.PageRecord
}

// Write renders r as HTML.
func (w *HTMLWriter) Write(r *Report) (int, error) {
	cw := &countingWriter{w: w.output}
	err := htmlTemplate.Execute(cw, newHTMLView(r))
	return cw.n, err
}

func newHTMLView(r *Report) htmlView {
	s := &r.Intel
	hashes := s.Count(model.IOCMD5) + s.Count(model.IOCSHA1) + s.Count(model.IOCSHA256)

	v := htmlView{
		Generated: r.Generated.Format("2006-01-02 15:04 UTC"),
		Version:   r.Version,
		Pages:     len(r.Records),
		Run:       r.Run,
		Cards: []statCard{
			{len(r.Records), "Pages Crawled"},
			{s.TotalIOCs, "Total IOCs"},
			{s.ElevatedPages, "High / Critical"},
			{s.Count(model.IOCCVE), "CVEs Found"},
			{hashes, "Hash IOCs"},
			{s.Count(model.IOCEmail), "Emails"},
			{s.Count(model.IOCBTC), "BTC Addresses"},
			{s.Count(model.IOCOnion), "Onion References"},
			{s.PGPPages, "PGP Blocks"},
		},
		Registry: r.Registry(),
		HighRisk: r.HighRisk(),
		Sites:    r.Sites(),
		Records:  r.Records,
	}

	total := max(len(r.Records), 1)
	for i := len(model.RiskLabels) - 1; i >= 0; i-- {
		label := model.RiskLabels[i]
		n := s.Distribution[label]
		v.Distribution = append(v.Distribution, distributionRow{
			Label:   label,
			Count:   n,
			Percent: n * 100 / total,
		})
	}
	return v
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

func formatCategories(cats []string) string {
	if len(cats) == 0 {
		return "-"
	}
	if len(cats) > 3 {
		cats = cats[:3]
	}
	return strings.Join(cats, ", ")
}

// truncateString truncates s to maxLen runes with an ellipsis.
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
