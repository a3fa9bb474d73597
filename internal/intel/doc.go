// Package intel derives threat intelligence from harvested page text.
//
// Extraction is table driven: Indicators pairs every IOC kind with a
// compiled pattern, an optional validator and an optional normalizer, so
// each pattern can be tested on its own. Classification counts category
// keywords, turns the count into a density per thousand words and scales
// it by the category weight into [0,10]. The overall score maps to a
// RiskLabel through configurable, monotonic Thresholds.
//
// Everything in this package is a pure function of its input text.
package intel
