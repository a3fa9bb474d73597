package model

import (
	"encoding/json"
	"math"
	"time"
)

// DefaultTitle is used when a page has no usable <title> element.
const DefaultTitle = "No Title"

// Intel bundles the intelligence derived from one page's text.
// It is serialized as the ioc_data blob in every sink.
type Intel struct {
	IOCs   IOCs   `json:"iocs"`
	Threat Threat `json:"threat"`
}

// PageRecord is the result of one successfully fetched and accepted page.
// A record is built once by the frontier, enriched once by the intelligence
// step and then treated as immutable by every sink.
type PageRecord struct {
	// URL is the absolute URL the page was fetched from.
	URL string

	// Site is the scheme://host of the seed this page was reached from.
	Site string

	// Title is the text of the <title> element or DefaultTitle.
	Title string

	// Depth is the BFS distance from the seed (seed = 0).
	Depth int

	// CrawlTime is the wall time spent fetching and extracting the page.
	CrawlTime time.Duration

	// LinksFound is the number of distinct onion links on the page.
	LinksFound int

	// ContentHash is the hex SHA-256 of the normalized page text.
	ContentHash string

	// Text is the normalized visible text.
	Text string

	// Intel holds the extracted indicators and threat classification.
	Intel Intel

	// CrawledAt is when the page was accepted.
	CrawledAt time.Time
}

// RiskScore returns the overall threat score of the page.
func (p *PageRecord) RiskScore() float64 {
	return p.Intel.Threat.Score
}

// RiskLabel returns the overall threat label of the page.
func (p *PageRecord) RiskLabel() RiskLabel {
	return p.Intel.Threat.Label
}

// CrawlSeconds returns CrawlTime in seconds rounded to milliseconds.
func (p *PageRecord) CrawlSeconds() float64 {
	return math.Round(p.CrawlTime.Seconds()*1000) / 1000
}

// pageRecordJSON is the wire shape shared by the JSON export and the
// stored result rows.
type pageRecordJSON struct {
	URL         string    `json:"url"`
	Site        string    `json:"site"`
	Title       string    `json:"title"`
	Depth       int       `json:"depth"`
	CrawlTime   float64   `json:"crawl_time_s"`
	LinksFound  int       `json:"links_found"`
	ContentHash string    `json:"content_hash"`
	Text        string    `json:"text"`
	Intel       Intel     `json:"ioc_data"`
	RiskScore   float64   `json:"risk_score"`
	RiskLabel   RiskLabel `json:"risk_label"`
	CrawledAt   time.Time `json:"crawled_at"`
}

// MarshalJSON implements json.Marshaler.
func (p PageRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(pageRecordJSON{
		URL:         p.URL,
		Site:        p.Site,
		Title:       p.Title,
		Depth:       p.Depth,
		CrawlTime:   p.CrawlSeconds(),
		LinksFound:  p.LinksFound,
		ContentHash: p.ContentHash,
		Text:        p.Text,
		Intel:       p.Intel,
		RiskScore:   p.Intel.Threat.Score,
		RiskLabel:   p.Intel.Threat.Label,
		CrawledAt:   p.CrawledAt.UTC(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PageRecord) UnmarshalJSON(data []byte) error {
	var raw pageRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PageRecord{
		URL:         raw.URL,
		Site:        raw.Site,
		Title:       raw.Title,
		Depth:       raw.Depth,
		CrawlTime:   time.Duration(raw.CrawlTime * float64(time.Second)),
		LinksFound:  raw.LinksFound,
		ContentHash: raw.ContentHash,
		Text:        raw.Text,
		Intel:       raw.Intel,
		CrawledAt:   raw.CrawledAt,
	}
	return nil
}
