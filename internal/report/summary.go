package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/nao1215/onionharvest/internal/model"
)

// SummaryWriter prints the run banner and the end-of-run summary on a
// terminal.
type SummaryWriter struct {
	baseWriter
	noColor bool
}

// SummaryOption configures a SummaryWriter.
type SummaryOption func(*SummaryWriter)

// WithNoColor disables colors and draws ASCII borders.
func WithNoColor(noColor bool) SummaryOption {
	return func(w *SummaryWriter) {
		w.noColor = noColor
	}
}

// NewSummaryWriter creates a SummaryWriter that outputs to the given writer.
func NewSummaryWriter(output io.Writer, opts ...SummaryOption) *SummaryWriter {
	w := &SummaryWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Banner describes the run about to start.
type Banner struct {
	Version  string
	Seeds    int
	Depth    int
	Pages    int
	Workers  int
	Proxy    string
	Embedded bool
	Output   string
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func (w *SummaryWriter) style(s lipgloss.Style, text string) string {
	if w.noColor {
		return text
	}
	return s.Render(text)
}

// WriteBanner prints the run banner.
func (w *SummaryWriter) WriteBanner(b Banner) (int, error) {
	proxy := b.Proxy
	if b.Embedded {
		proxy = "embedded tor"
	}
	var sb strings.Builder
	sb.WriteString(w.style(titleStyle, "onionharvest "+b.Version) + "\n")
	fmt.Fprintf(&sb, "%s %d  %s %d  %s %d  %s %d\n",
		w.style(keyStyle, "seeds"), b.Seeds,
		w.style(keyStyle, "depth"), b.Depth,
		w.style(keyStyle, "pages/site"), b.Pages,
		w.style(keyStyle, "workers"), b.Workers)
	fmt.Fprintf(&sb, "%s %s  %s %s\n\n",
		w.style(keyStyle, "proxy"), proxy,
		w.style(keyStyle, "output"), b.Output)
	return io.WriteString(w.output, sb.String())
}

// Write prints the end-of-run summary of r. Run counters are omitted when
// r.Run is nil.
func (w *SummaryWriter) Write(r *Report) (int, error) {
	var sb strings.Builder
	sb.WriteString("\n" + w.style(titleStyle, "Harvest summary") + "\n")

	rows := [][]string{}
	if run := r.Run; run != nil {
		rows = append(rows,
			[]string{"Sites crawled", fmt.Sprintf("%d / %d", run.SitesCrawled(), len(run.Sites))},
			[]string{"Pages accepted", strconv.Itoa(run.PagesAccepted())},
			[]string{"Failed", strconv.Itoa(run.PagesFailed())},
			[]string{"Skipped", strconv.Itoa(run.PagesSkipped())},
			[]string{"Duplicates", strconv.Itoa(run.PagesDuplicated())},
			[]string{"Circuit renewals", strconv.FormatUint(run.Epochs, 10)},
			[]string{"Elapsed", run.Elapsed().Round(time.Second).String()},
		)
	} else {
		rows = append(rows, []string{"Pages", strconv.Itoa(len(r.Records))})
	}

	s := &r.Intel
	top := strings.Join(s.TopCategories(3), ", ")
	if top == "" {
		top = "-"
	}
	rows = append(rows,
		[]string{"Total IOCs", strconv.Itoa(s.TotalIOCs)},
		[]string{"High / Critical pages", strconv.Itoa(s.ElevatedPages)},
		[]string{"CVEs", strconv.Itoa(s.Count(model.IOCCVE))},
		[]string{"BTC addresses", strconv.Itoa(s.Count(model.IOCBTC))},
		[]string{"Emails", strconv.Itoa(s.Count(model.IOCEmail))},
		[]string{"Top categories", top},
	)
	sb.WriteString(w.Table([]string{"Metric", "Value"}, rows) + "\n")

	if r.Run != nil && len(r.Run.Sites) > 0 {
		sb.WriteString(w.Table(
			[]string{"Site", "Status", "Fetched", "Accepted", "Dup", "Failed", "Skipped"},
			siteRows(r.Run.Sites)) + "\n")
		if !r.Run.AnyCompleted() {
			sb.WriteString(w.style(warnStyle, "No seed crawl completed.") + "\n")
		}
	}
	return io.WriteString(w.output, sb.String())
}

func siteRows(sites []model.SiteStats) [][]string {
	rows := make([][]string, 0, len(sites))
	for _, st := range sites {
		name := st.Site
		if name == "" {
			name = st.Seed
		}
		rows = append(rows, []string{
			truncateString(name, 72),
			string(st.Status),
			strconv.Itoa(st.Fetched),
			strconv.Itoa(st.Accepted),
			strconv.Itoa(st.Duplicates),
			strconv.Itoa(st.Failed),
			strconv.Itoa(st.Skipped),
		})
	}
	return rows
}

// Table renders rows with the writer's table style.
func (w *SummaryWriter) Table(headers []string, rows [][]string) string {
	t := table.New().Headers(headers...).Rows(rows...)
	if w.noColor {
		return t.Border(lipgloss.ASCIIBorder()).Render()
	}
	return t.
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Padding(0, 1)
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Padding(0, 1)
		}).
		Render()
}
