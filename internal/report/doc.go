// Package report renders the results of a harvest run.
//
// The HTMLWriter produces a single self-contained page (inline CSS, no
// scripts, no external fetches) with an executive summary, the risk
// distribution, the IOC registry, the high-risk page index, a per-site
// breakdown and the URL index. The MarkdownWriter writes a shorter
// summary with a mermaid pie chart of risk labels. The SummaryWriter
// prints the run banner and the end-of-run table on the terminal.
package report
