package report

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/nao1215/markdown/mermaid/flowchart"
	"github.com/nao1215/onionharvest/internal/model"
)

// maxGraphPages caps the page nodes of the network graph.
const maxGraphPages = 60

// riskColors are the node fills of the network graph.
var riskColors = map[model.RiskLabel]string{
	model.RiskLow:      "#3fb950",
	model.RiskMedium:   "#e3b341",
	model.RiskHigh:     "#ffa657",
	model.RiskCritical: "#ff7b72",
}

// NetworkGraph renders the crawled sites and their pages as a mermaid
// flowchart, one edge from each site to each of its pages. Nodes are
// colored by risk label; a site takes the label of its riskiest page.
// Pages beyond maxGraphPages are left out and counted in omitted.
func (r *Report) NetworkGraph() (chart string, omitted int) {
	sites := r.Sites()
	if len(sites) == 0 {
		return "", 0
	}

	bySite := make(map[string][]*model.PageRecord, len(sites))
	for i := range r.Records {
		rec := &r.Records[i]
		bySite[rec.Site] = append(bySite[rec.Site], rec)
	}

	fc := flowchart.NewFlowchart(io.Discard,
		flowchart.WithTitle("Site to page network"),
		flowchart.WithOrientalLeftToRight())
	classes := make(map[model.RiskLabel][]string)

	pages := 0
	for i, site := range sites {
		siteID := fmt.Sprintf("s%d", i)
		fc.StadiumNode(siteID, graphText(siteHost(site.Site)))
		classes[site.Label] = append(classes[site.Label], siteID)

		for j, rec := range bySite[site.Site] {
			if pages == maxGraphPages {
				omitted += len(bySite[site.Site]) - j
				break
			}
			pageID := fmt.Sprintf("s%dp%d", i, j)
			fc.NodeWithText(pageID, graphText(pagePath(rec.URL)))
			fc.LinkWithArrowHead(siteID, pageID)
			classes[rec.RiskLabel()] = append(classes[rec.RiskLabel()], pageID)
			pages++
		}
	}

	var sb strings.Builder
	sb.WriteString(fc.String())
	for _, label := range model.RiskLabels {
		ids := classes[label]
		if len(ids) == 0 {
			continue
		}
		name := strings.ToLower(label.String())
		fmt.Fprintf(&sb, "\n    classDef %s fill:%s,stroke:#30363d,color:#0f1117", name, riskColors[label])
		fmt.Fprintf(&sb, "\n    class %s %s", strings.Join(ids, ","), name)
	}
	return sb.String(), omitted
}

func siteHost(site string) string {
	if u, err := url.Parse(site); err == nil && u.Host != "" {
		return truncateString(u.Host, 24)
	}
	return truncateString(site, 24)
}

// pagePath labels a page node with its path and query.
func pagePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return truncateString(rawURL, 32)
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return truncateString(p, 32)
}

// graphText escapes a node label for a quoted mermaid string.
func graphText(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "\n", " ").Replace(s)
}
