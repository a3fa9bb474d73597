package model

// IOCKind names one indicator family extracted from page text.
type IOCKind string

// Indicator families produced by the intelligence engine.
const (
	IOCIPv4   IOCKind = "ipv4"
	IOCEmail  IOCKind = "email"
	IOCMD5    IOCKind = "md5"
	IOCSHA1   IOCKind = "sha1"
	IOCSHA256 IOCKind = "sha256"
	IOCCVE    IOCKind = "cve"
	IOCBTC    IOCKind = "btc"
	IOCXMR    IOCKind = "xmr"
	IOCOnion  IOCKind = "onion"
	IOCDomain IOCKind = "domain"
	IOCURL    IOCKind = "url"
)

// IOCKinds lists every value-bearing indicator family in report order.
var IOCKinds = []IOCKind{
	IOCIPv4, IOCEmail, IOCMD5, IOCSHA1, IOCSHA256, IOCCVE,
	IOCBTC, IOCXMR, IOCOnion, IOCDomain, IOCURL,
}

// IOCs holds the indicators of compromise found on a single page.
// Every list is deduplicated and sorted.
type IOCs struct {
	IPv4     []string `json:"ipv4"`
	Emails   []string `json:"emails"`
	MD5      []string `json:"md5"`
	SHA1     []string `json:"sha1"`
	SHA256   []string `json:"sha256"`
	CVEs     []string `json:"cves"`
	BTC      []string `json:"btc_addresses"`
	XMR      []string `json:"xmr_addresses"`
	Onions   []string `json:"onion_addresses"`
	Domains  []string `json:"domains"`
	URLs     []string `json:"urls"`
	PGPBlock bool     `json:"pgp_present"`
}

// Values returns the list for the given kind.
func (i *IOCs) Values(kind IOCKind) []string {
	switch kind {
	case IOCIPv4:
		return i.IPv4
	case IOCEmail:
		return i.Emails
	case IOCMD5:
		return i.MD5
	case IOCSHA1:
		return i.SHA1
	case IOCSHA256:
		return i.SHA256
	case IOCCVE:
		return i.CVEs
	case IOCBTC:
		return i.BTC
	case IOCXMR:
		return i.XMR
	case IOCOnion:
		return i.Onions
	case IOCDomain:
		return i.Domains
	case IOCURL:
		return i.URLs
	default:
		return nil
	}
}

// Set replaces the list for the given kind.
func (i *IOCs) Set(kind IOCKind, values []string) {
	switch kind {
	case IOCIPv4:
		i.IPv4 = values
	case IOCEmail:
		i.Emails = values
	case IOCMD5:
		i.MD5 = values
	case IOCSHA1:
		i.SHA1 = values
	case IOCSHA256:
		i.SHA256 = values
	case IOCCVE:
		i.CVEs = values
	case IOCBTC:
		i.BTC = values
	case IOCXMR:
		i.XMR = values
	case IOCOnion:
		i.Onions = values
	case IOCDomain:
		i.Domains = values
	case IOCURL:
		i.URLs = values
	}
}

// Total returns the number of distinct indicator values.
// The PGP marker is a presence flag and is not counted.
func (i *IOCs) Total() int {
	total := 0
	for _, kind := range IOCKinds {
		total += len(i.Values(kind))
	}
	return total
}

// Threat is the keyword-density classification of a page.
type Threat struct {
	// Categories lists the categories scoring above the relevance floor,
	// strongest first.
	Categories []string `json:"categories"`

	// Scores holds the score in [0,10] for every category with at least one hit.
	Scores map[string]float64 `json:"scores,omitempty"`

	// KeywordHits holds the raw keyword hit count per category.
	KeywordHits map[string]int `json:"keyword_hits"`

	// Score is the overall risk score in [0,10].
	Score float64 `json:"risk_score"`

	// Label is the threshold mapping of Score.
	Label RiskLabel `json:"risk_label"`
}
