package intel

import (
	"regexp"
	"slices"
	"strings"

	"github.com/nao1215/onionharvest/internal/model"
	"github.com/nao1215/onionharvest/internal/tor"
)

// MaxURLs caps the URL indicators kept per page.
const MaxURLs = 50

// Indicator is one row of the extraction table: a compiled pattern, an
// optional validator that drops false positives and an optional
// normalizer applied before deduplication.
type Indicator struct {
	Kind      model.IOCKind
	Pattern   *regexp.Regexp
	Validate  func(text string, start, end int) bool
	Normalize func(string) string
	Limit     int
}

// privatePrefixes are IPv4 ranges that never identify infrastructure.
var privatePrefixes = []string{"127.", "10.", "192.168.", "169.254."}

// pgpMarker flags an armored PGP block anywhere in the text.
var pgpMarker = regexp.MustCompile(`-----BEGIN PGP`)

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

// Indicators is the static extraction table evaluated once per page.
var Indicators = []Indicator{
	{
		Kind:     model.IOCIPv4,
		Pattern:  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`),
		Validate: publicIPv4,
	},
	{
		Kind:    model.IOCEmail,
		Pattern: emailPattern,
	},
	{
		Kind:    model.IOCMD5,
		Pattern: regexp.MustCompile(`\b[0-9a-fA-F]{32}\b`),
	},
	{
		Kind:    model.IOCSHA1,
		Pattern: regexp.MustCompile(`\b[0-9a-fA-F]{40}\b`),
	},
	{
		Kind:    model.IOCSHA256,
		Pattern: regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`),
	},
	{
		Kind:      model.IOCCVE,
		Pattern:   regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,7}\b`),
		Normalize: strings.ToUpper,
	},
	{
		Kind:    model.IOCBTC,
		Pattern: regexp.MustCompile(`\b(?:bc1[ac-hj-np-z02-9]{6,87}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
	},
	{
		Kind:    model.IOCXMR,
		Pattern: regexp.MustCompile(`\b4[0-9AB][1-9A-HJ-NP-Za-km-z]{93}\b`),
	},
	{
		Kind:      model.IOCOnion,
		Pattern:   regexp.MustCompile(`(?i)\b[a-z2-7]{56}\.onion\b`),
		Normalize: strings.ToLower,
		Validate:  validOnion,
	},
	{
		Kind:      model.IOCDomain,
		Pattern:   regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?\.)+(?:com|net|org|io|ru|cn|de|uk|fr|it|es|gov|edu|mil|co)\b`),
		Normalize: strings.ToLower,
		Validate:  notEmailHost,
	},
	{
		Kind:    model.IOCURL,
		Pattern: regexp.MustCompile(`(?i)https?://[^\s"'<>]{8,200}`),
		Limit:   MaxURLs,
	},
}

// ExtractIOCs runs every indicator of the table against text.
func ExtractIOCs(text string) model.IOCs {
	var iocs model.IOCs
	for _, ind := range Indicators {
		iocs.Set(ind.Kind, ind.extract(text))
	}
	iocs.PGPBlock = pgpMarker.MatchString(text)
	return iocs
}

// extract collects the non-overlapping matches of one indicator,
// deduplicated and sorted.
func (ind Indicator) extract(text string) []string {
	locs := ind.Pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{}
	}

	seen := make(map[string]struct{}, len(locs))
	for _, loc := range locs {
		if ind.Validate != nil && !ind.Validate(text, loc[0], loc[1]) {
			continue
		}
		value := text[loc[0]:loc[1]]
		if ind.Normalize != nil {
			value = ind.Normalize(value)
		}
		seen[value] = struct{}{}
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	slices.Sort(values)

	if ind.Limit > 0 && len(values) > ind.Limit {
		values = values[:ind.Limit]
	}
	return values
}

func publicIPv4(text string, start, end int) bool {
	ip := text[start:end]
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(ip, prefix) {
			return false
		}
	}
	return true
}

// notEmailHost drops domains that overlap an email address, in its host
// or in a dotted local part; those are already reported as emails.
// Emails hold no whitespace, so only the surrounding run of email
// characters is searched.
func notEmailHost(text string, start, end int) bool {
	lo, hi := start, end
	for lo > 0 && isEmailByte(text[lo-1]) {
		lo--
	}
	for hi < len(text) && isEmailByte(text[hi]) {
		hi++
	}
	if !strings.Contains(text[lo:hi], "@") {
		return true
	}
	for _, loc := range emailPattern.FindAllStringIndex(text[lo:hi], -1) {
		if lo+loc[0] < end && lo+loc[1] > start {
			return false
		}
	}
	return true
}

func isEmailByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("._%+-@", c) >= 0
}

func validOnion(text string, start, end int) bool {
	return tor.IsValidV3Address(text[start:end])
}
