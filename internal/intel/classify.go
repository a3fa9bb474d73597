package intel

import (
	"math"
	"sort"
	"strings"

	"github.com/nao1215/onionharvest/internal/model"
)

// Category is one threat class of the keyword classifier.
type Category struct {
	Name     string
	Weight   float64
	Keywords []string
}

// Categories is the fixed knowledge base of the classifier.
// Weights are in [0,1] and scale a saturated keyword density to [0,10].
var Categories = []Category{
	{
		Name:   "Credentials & Leaks",
		Weight: 0.85,
		Keywords: []string{
			"password", "credentials", "login", "username", "leaked", "breach",
			"database dump", "combo list", "fullz", "account", "shell access",
			"rdp", "ssh login", "ftp", "vpn access", "admin panel",
		},
	},
	{
		Name:   "Marketplace",
		Weight: 0.55,
		Keywords: []string{
			"buy", "sell", "price", "vendor", "shipping", "escrow", "market",
			"shop", "store", "listing", "order", "payment", "wallet", "checkout",
			"in stock", "out of stock", "delivery",
		},
	},
	{
		Name:   "Malware & Ransomware",
		Weight: 0.95,
		Keywords: []string{
			"malware", "ransomware", "trojan", "botnet", "keylogger", "exploit",
			"payload", "c2", "command and control", "dropper", "cryptolocker",
			"ransom", "decrypt", "encryption key", "rat ", "loader", "stealer",
			"infostealer", "spyware",
		},
	},
	{
		Name:   "Financial Fraud",
		Weight: 0.90,
		Keywords: []string{
			"credit card", "cvv", "carding", "dump", "bin", "cashout",
			"money laundering", "bank account", "wire transfer", "western union",
			"paypal", "swift", "iban", "routing number", "skimmer",
			"counterfeit", "fake bills",
		},
	},
	{
		Name:   "Illicit Substances",
		Weight: 0.80,
		Keywords: []string{
			"cocaine", "heroin", "fentanyl", "mdma", "methamphetamine",
			"cannabis", "weed", "lsd", "ketamine", "opioid", "pills",
			"narcotics", "stimulant", "psychedelic", "benzodiazepine",
		},
	},
	{
		Name:   "Hacking Services",
		Weight: 0.90,
		Keywords: []string{
			"ddos", "dos attack", "hack for hire", "zero-day", "0day",
			"vulnerability", "cve-", "exploit kit", "stresser", "booter",
			"spear phishing", "social engineering", "remote access",
			"web shell", "privilege escalation",
		},
	},
	{
		Name:   "Identity Documents",
		Weight: 0.85,
		Keywords: []string{
			"passport", "id card", "driver license", "ssn", "social security",
			"birth certificate", "kyc bypass", "identity", "national id",
			"residence permit", "visa", "scan", "fake id",
		},
	},
	{
		Name:   "Forum & Community",
		Weight: 0.20,
		Keywords: []string{
			"forum", "thread", "reply", "post", "member", "moderator",
			"register", "join", "discussion", "topic", "board", "community",
		},
	},
	{
		Name:   "Cryptocurrency Services",
		Weight: 0.70,
		Keywords: []string{
			"mixer", "tumbler", "coin swap", "monero", "privacy coin",
			"exchange", "no kyc", "anonymous transfer", "clean btc",
			"crypto laundry",
		},
	},
}

// Classification policy constants.
const (
	// MaxScore is the upper bound of every category and overall score.
	MaxScore = 10.0

	// RelevanceFloor is the score a category must exceed to be listed.
	RelevanceFloor = 1.0

	// DefaultSaturation is the keyword hits per thousand words at which a
	// category's density saturates.
	DefaultSaturation = 1.0
)

// Thresholds maps an overall score to a RiskLabel. A score at or above a
// cut point receives that label.
type Thresholds struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// DefaultThresholds returns the default label cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 3.0, High: 6.0, Critical: 8.5}
}

// Validate reports whether the cut points are strictly increasing and
// inside (0, MaxScore].
func (t Thresholds) Validate() error {
	if t.Medium <= 0 || t.Medium >= t.High || t.High >= t.Critical || t.Critical > MaxScore {
		return ErrNonMonotonicThresholds
	}
	return nil
}

// Label returns the risk label for score.
func (t Thresholds) Label(score float64) model.RiskLabel {
	switch {
	case score >= t.Critical:
		return model.RiskCritical
	case score >= t.High:
		return model.RiskHigh
	case score >= t.Medium:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// classify scores text against every category.
func classify(text string, thresholds Thresholds, saturation float64) model.Threat {
	lower := strings.ToLower(text)
	words := max(len(strings.Fields(lower)), 1)

	threat := model.Threat{
		Categories:  []string{},
		Scores:      map[string]float64{},
		KeywordHits: map[string]int{},
		Label:       model.RiskLow,
	}

	for _, cat := range Categories {
		hits := 0
		for _, kw := range cat.Keywords {
			hits += strings.Count(lower, kw)
		}
		if hits == 0 {
			continue
		}
		threat.KeywordHits[cat.Name] = hits
		threat.Scores[cat.Name] = densityScore(hits, words, cat.Weight, saturation)
	}

	if len(threat.Scores) == 0 {
		return threat
	}

	names := make([]string, 0, len(threat.Scores))
	highest := 0.0
	for name, score := range threat.Scores {
		names = append(names, name)
		highest = math.Max(highest, score)
	}
	sort.Slice(names, func(i, j int) bool {
		si, sj := threat.Scores[names[i]], threat.Scores[names[j]]
		if si != sj {
			return si > sj
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		if threat.Scores[name] > RelevanceFloor {
			threat.Categories = append(threat.Categories, name)
		}
	}

	threat.Score = round2(math.Min(highest, MaxScore))
	threat.Label = thresholds.Label(threat.Score)
	return threat
}

// densityScore converts keyword hits into a score in [0, weight*MaxScore].
// Density is measured in hits per thousand words and saturates at saturation.
func densityScore(hits, words int, weight, saturation float64) float64 {
	perThousand := float64(hits) / (float64(words) / 1000.0)
	density := math.Min(perThousand/saturation, 1.0)
	return density * weight * MaxScore
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
