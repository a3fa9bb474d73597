// Package model defines the data structures shared by the harvester.
//
// This package contains the following main types:
//   - PageRecord: one accepted page with its text and intelligence
//   - IOCs and Threat: indicators and keyword classification of a page
//   - RiskLabel: ordered Low/Medium/High/Critical levels
//   - SiteStats and RunSummary: per-site and run-level counters
//
// Models live in their own package so the crawler, intelligence engine,
// sinks and reports can share them without import cycles. All of them are
// serializable to JSON for exports and database storage.
package model
