package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/onionharvest/internal/model"
)

// MarkdownWriter outputs a run summary in Markdown format.
// We use the nao1215/markdown library for tables, alerts and the mermaid
// pie chart and network graph.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary of r.
func (w *MarkdownWriter) Write(r *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, r)
	w.writeRisk(md, r)
	w.writeIOCs(md, r)
	w.writeHighRisk(md, r)
	w.writeSites(md, r)
	w.writeGraph(md, r)
	w.writeFooter(md, r)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, r *Report) {
	md.H1("onionharvest Summary")
	md.PlainText("")

	rows := [][]string{
		{"Generated", r.Generated.Format("2006-01-02 15:04:05 MST")},
		{"Pages", strconv.Itoa(len(r.Records))},
		{"Sites", strconv.Itoa(len(r.Sites()))},
	}
	if run := r.Run; run != nil {
		rows = append(rows,
			[]string{"Run", "`" + run.RunID + "`"},
			[]string{"Failed", strconv.Itoa(run.PagesFailed())},
			[]string{"Skipped", strconv.Itoa(run.PagesSkipped())},
			[]string{"Duplicates", strconv.Itoa(run.PagesDuplicated())},
			[]string{"Elapsed", run.Elapsed().Round(time.Second).String()},
		)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeRisk(md *markdown.Markdown, r *Report) {
	md.H2("Risk Distribution")
	md.PlainText("")

	rows := make([][]string, 0, len(model.RiskLabels))
	for i := len(model.RiskLabels) - 1; i >= 0; i-- {
		label := model.RiskLabels[i]
		rows = append(rows, []string{label.String(), strconv.Itoa(r.Intel.Distribution[label])})
	}
	md.Table(markdown.TableSet{Header: []string{"Risk", "Pages"}, Rows: rows})
	md.PlainText("")

	if len(r.Records) > 0 {
		w.writePieChart(md, r)
	}
	w.writeAlert(md, r)
}

// writePieChart writes a mermaid pie chart of the risk labels.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, r *Report) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Page Risk Distribution"),
		piechart.WithShowData(true),
	)
	for i := len(model.RiskLabels) - 1; i >= 0; i-- {
		label := model.RiskLabels[i]
		if n := r.Intel.Distribution[label]; n > 0 {
			chart.LabelAndIntValue(label.String(), uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, r *Report) {
	critical := r.Intel.Distribution[model.RiskCritical]
	high := r.Intel.Distribution[model.RiskHigh]
	switch {
	case critical > 0:
		md.Cautionf("%d page(s) classified Critical.", critical)
	case high > 0:
		md.Warningf("%d page(s) classified High.", high)
	case r.Intel.Distribution[model.RiskMedium] > 0:
		md.Importantf("%d page(s) classified Medium.", r.Intel.Distribution[model.RiskMedium])
	default:
		md.Tip("No elevated threat vocabulary detected.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeIOCs(md *markdown.Markdown, r *Report) {
	md.H2("Indicators")
	md.PlainText("")

	registry := r.Registry()
	if len(registry) == 0 {
		md.PlainText("No IOCs extracted.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(registry))
	for _, e := range registry {
		rows = append(rows, []string{e.Title, strconv.Itoa(e.Total)})
	}
	md.Table(markdown.TableSet{Header: []string{"Kind", "Distinct values"}, Rows: rows})
	md.PlainText("")

	if top := r.Intel.TopCategories(3); len(top) > 0 {
		md.PlainText("Top categories:")
		md.PlainText("")
		md.BulletList(top...)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeHighRisk(md *markdown.Markdown, r *Report) {
	pages := r.HighRisk()
	if len(pages) == 0 {
		return
	}

	md.H2("High-Risk Pages")
	md.PlainText("")
	rows := make([][]string, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, []string{
			"`" + truncateString(p.URL, 70) + "`",
			truncateString(p.Title, 40),
			p.RiskLabel().String(),
			formatScore(p.RiskScore()),
			formatCategories(p.Intel.Threat.Categories),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Title", "Risk", "Score", "Categories"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeSites(md *markdown.Markdown, r *Report) {
	sites := r.Sites()
	if len(sites) == 0 {
		return
	}

	md.H2("Sites")
	md.PlainText("")
	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		rows = append(rows, []string{
			"`" + s.Site + "`",
			strconv.Itoa(s.Pages),
			strconv.Itoa(s.IOCs),
			s.Label.String(),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Site", "Pages", "IOCs", "Risk"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeGraph writes the site to page network as a mermaid flowchart.
func (w *MarkdownWriter) writeGraph(md *markdown.Markdown, r *Report) {
	chart, omitted := r.NetworkGraph()
	if chart == "" {
		return
	}

	md.H2("Network Graph")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart)
	md.PlainText("")
	if omitted > 0 {
		md.PlainTextf("%d page(s) not drawn.", omitted)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, r *Report) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by onionharvest %s*", r.Version)
}
