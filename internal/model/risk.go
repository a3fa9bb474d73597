package model

import (
	"fmt"
	"strings"
)

// RiskLabel is the overall threat level assigned to a harvested page.
// Labels are ordered, so comparisons such as label >= RiskHigh are valid.
type RiskLabel int

const (
	// RiskLow is assigned to pages with little or no threat-related vocabulary.
	RiskLow RiskLabel = iota

	// RiskMedium is assigned to pages with a noticeable density of
	// threat keywords in at least one category.
	RiskMedium

	// RiskHigh is assigned to pages dominated by one or more threat categories.
	RiskHigh

	// RiskCritical is assigned to pages whose strongest category is close
	// to saturation.
	RiskCritical
)

// RiskLabels lists every label from lowest to highest.
var RiskLabels = []RiskLabel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// String returns a human-readable representation of the label.
func (r RiskLabel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	case RiskCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so labels serialize as
// strings in JSON exports and the ioc_data column.
func (r RiskLabel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLabel) UnmarshalText(text []byte) error {
	label, err := ParseRiskLabel(string(text))
	if err != nil {
		return err
	}
	*r = label
	return nil
}

// ParseRiskLabel converts a case-insensitive label name into a RiskLabel.
func ParseRiskLabel(s string) (RiskLabel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk label %q", s)
	}
}

// IsElevated reports whether the label is High or Critical.
func (r RiskLabel) IsElevated() bool {
	return r >= RiskHigh
}
