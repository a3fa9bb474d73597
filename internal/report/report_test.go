package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
)

func record(url, site string, score float64, label model.RiskLabel, cats ...string) model.PageRecord {
	return model.PageRecord{
		URL:         url,
		Site:        site,
		Title:       "Title of " + url,
		ContentHash: strings.Repeat("ab", 32),
		Intel: model.Intel{
			IOCs: model.IOCs{
				Emails: []string{"ops@example.com"},
				CVEs:   []string{"CVE-2024-1234"},
			},
			Threat: model.Threat{Score: score, Label: label, Categories: cats},
		},
	}
}

func testReport() *Report {
	records := []model.PageRecord{
		record("http://b.onion/", "http://b.onion", 2.0, model.RiskLow),
		record("http://a.onion/", "http://a.onion", 9.1, model.RiskCritical, "malware", "exploits"),
		record("http://a.onion/x", "http://a.onion", 6.5, model.RiskHigh, "carding"),
	}
	run := &model.RunSummary{
		RunID:    "run-1",
		Started:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Finished: time.Date(2025, 3, 1, 12, 1, 30, 0, time.UTC),
		Sites: []model.SiteStats{
			{Seed: "a.onion", Site: "http://a.onion", Fetched: 3, Accepted: 2, Duplicates: 1, Status: model.SiteCompleted},
			{Seed: "b.onion", Site: "http://b.onion", Fetched: 1, Accepted: 1, Status: model.SiteCompleted},
		},
	}
	return New(records, run, "v1.2.3")
}

func TestReportAggregates(t *testing.T) {
	t.Parallel()

	r := testReport()

	t.Run("sites are grouped and ordered", func(t *testing.T) {
		t.Parallel()

		sites := r.Sites()
		if len(sites) != 2 || sites[0].Site != "http://a.onion" {
			t.Fatalf("unexpected sites: %+v", sites)
		}
		a := sites[0]
		if a.Pages != 2 || a.MaxScore != 9.1 || a.Label != model.RiskCritical || a.IOCs != 4 {
			t.Errorf("unexpected breakdown: %+v", a)
		}
		if strings.Join(a.Categories, ",") != "carding,exploits,malware" {
			t.Errorf("unexpected categories: %v", a.Categories)
		}
	})

	t.Run("high risk pages sorted by score", func(t *testing.T) {
		t.Parallel()

		hr := r.HighRisk()
		if len(hr) != 2 || hr[0].URL != "http://a.onion/" || hr[1].URL != "http://a.onion/x" {
			t.Errorf("unexpected high risk pages: %+v", hr)
		}
	})

	t.Run("registry lists non-empty kinds", func(t *testing.T) {
		t.Parallel()

		reg := r.Registry()
		if len(reg) != 2 {
			t.Fatalf("expected 2 kinds, got %d", len(reg))
		}
		if reg[0].Kind != model.IOCEmail || reg[0].Title != "Email" || reg[0].Total != 1 {
			t.Errorf("unexpected entry: %+v", reg[0])
		}
		if reg[1].Title != "CVE" {
			t.Errorf("unexpected entry: %+v", reg[1])
		}
	})
}

func TestKindTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind model.IOCKind
		want string
	}{
		{model.IOCIPv4, "IPv4"},
		{model.IOCSHA256, "SHA-256"},
		{model.IOCOnion, "Onion"},
		{model.IOCDomain, "Domain"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			if got := KindTitle(tt.kind); got != tt.want {
				t.Errorf("KindTitle(%s) = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestHTMLWriter(t *testing.T) {
	t.Parallel()

	t.Run("renders every section", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		n, err := NewHTMLWriter(&buf).Write(testReport())
		if err != nil {
			t.Fatalf("Write() error: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("reported %d bytes, wrote %d", n, buf.Len())
		}
		out := buf.String()
		for _, want := range []string{
			"Executive Summary", "Risk Distribution", "IOC Registry",
			"High-Risk Pages", "Site Breakdown", "Crawled URL Index",
			"CVE-2024-1234", "run-1", "v1.2.3", "risk-Critical",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("is self-contained and escapes page content", func(t *testing.T) {
		t.Parallel()

		rec := record("http://c.onion/", "http://c.onion", 0, model.RiskLow)
		rec.Title = `<script>alert("x")</script>`
		var buf bytes.Buffer
		if _, err := NewHTMLWriter(&buf).Write(New([]model.PageRecord{rec}, nil, "dev")); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		if strings.Contains(out, "<script>") {
			t.Error("page title must be escaped")
		}
		for _, external := range []string{"<link", "src=", "@import"} {
			if strings.Contains(out, external) {
				t.Errorf("report must not load external resources (%s)", external)
			}
		}
		if !strings.Contains(out, "No high-risk pages detected.") {
			t.Error("expected empty high-risk section")
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewMarkdownWriter(&buf).Write(testReport()); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# onionharvest Summary", "```mermaid", "pie", "Critical", "High-Risk Pages",
		"`run-1`", "1m30s", "malware", "## Network Graph", "flowchart LR",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

func TestNetworkGraph(t *testing.T) {
	t.Parallel()

	t.Run("links sites to pages colored by risk", func(t *testing.T) {
		t.Parallel()

		chart, omitted := testReport().NetworkGraph()
		if omitted != 0 {
			t.Errorf("omitted = %d, want 0", omitted)
		}
		for _, want := range []string{
			"flowchart LR",
			`s0(["a.onion"])`,
			`s0p1["/x"]`,
			"s0-->s0p0",
			"s0-->s0p1",
			"s1-->s1p0",
			"classDef critical fill:#ff7b72",
			"class s0,s0p0 critical",
			"class s0p1 high",
			"class s1,s1p0 low",
		} {
			if !strings.Contains(chart, want) {
				t.Errorf("chart missing %q:\n%s", want, chart)
			}
		}
		if strings.Contains(chart, "classDef medium") {
			t.Error("unused risk classes must not be declared")
		}
	})

	t.Run("page nodes are capped", func(t *testing.T) {
		t.Parallel()

		records := make([]model.PageRecord, 0, maxGraphPages+5)
		for i := range maxGraphPages + 5 {
			records = append(records, record(fmt.Sprintf("http://a.onion/p%d", i), "http://a.onion", 1, model.RiskLow))
		}
		chart, omitted := New(records, nil, "dev").NetworkGraph()
		if omitted != 5 {
			t.Errorf("omitted = %d, want 5", omitted)
		}
		if got := strings.Count(chart, "-->"); got != maxGraphPages {
			t.Errorf("drew %d edges, want %d", got, maxGraphPages)
		}
	})

	t.Run("quotes in paths are escaped", func(t *testing.T) {
		t.Parallel()

		if got := graphText(`/a"b`); got != "/a#quot;b" {
			t.Errorf("graphText() = %s", got)
		}
	})

	t.Run("empty report has no graph", func(t *testing.T) {
		t.Parallel()

		if chart, _ := New(nil, nil, "dev").NetworkGraph(); chart != "" {
			t.Errorf("expected no chart, got %s", chart)
		}
	})
}

func TestSummaryWriter(t *testing.T) {
	t.Parallel()

	t.Run("banner", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewSummaryWriter(&buf, WithNoColor(true))
		if _, err := w.WriteBanner(Banner{Version: "v1", Seeds: 2, Depth: 2, Pages: 20, Workers: 3, Embedded: true, Output: "results"}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "embedded tor") || !strings.Contains(buf.String(), "onionharvest v1") {
			t.Errorf("unexpected banner: %s", buf.String())
		}
	})

	t.Run("end of run summary", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSummaryWriter(&buf, WithNoColor(true)).Write(testReport()); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"Pages accepted", "Duplicates", "High / Critical pages", "2 / 2", "http://a.onion", "completed"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected summary to contain %q\n%s", want, out)
			}
		}
		if strings.Contains(out, "No seed crawl completed") {
			t.Error("unexpected failure notice")
		}
	})
}

func TestSaveFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "report.html")
	err := SaveFile(path, testReport(), func(w io.Writer) Writer { return NewHTMLWriter(w) })
	if err != nil {
		t.Fatalf("SaveFile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("<!DOCTYPE html>")) {
		t.Errorf("unexpected file content: %.40s", data)
	}
}
