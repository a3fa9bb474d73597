package model

import "time"

// SiteStatus describes how a site crawl ended.
type SiteStatus string

const (
	// SiteCompleted means the frontier drained its queue or hit its page budget.
	SiteCompleted SiteStatus = "completed"

	// SiteCancelled means a run-wide stop signal ended the frontier early.
	SiteCancelled SiteStatus = "cancelled"

	// SiteAborted means the frontier stopped because its dedup store failed.
	SiteAborted SiteStatus = "aborted"

	// SiteInvalid means the seed was rejected before crawling started.
	SiteInvalid SiteStatus = "invalid"
)

// SiteStats are the counters of one site frontier.
type SiteStats struct {
	Seed       string        `json:"seed"`
	Site       string        `json:"site"`
	Fetched    int           `json:"fetched"`
	Accepted   int           `json:"accepted"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration_ns"`
	Status     SiteStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// RunSummary aggregates every site of one harvest run.
type RunSummary struct {
	RunID    string      `json:"run_id"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
	Epochs   uint64      `json:"circuit_epochs"`
	Sites    []SiteStats `json:"sites"`
}

// Elapsed returns the wall time of the run.
func (r *RunSummary) Elapsed() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// SitesCrawled returns the number of sites whose frontier reached a
// normal terminal state.
func (r *RunSummary) SitesCrawled() int {
	n := 0
	for _, s := range r.Sites {
		if s.Status == SiteCompleted {
			n++
		}
	}
	return n
}

// PagesAccepted returns the total number of persisted pages.
func (r *RunSummary) PagesAccepted() int {
	return r.sum(func(s SiteStats) int { return s.Accepted })
}

// PagesFailed returns the total number of terminal fetch failures.
func (r *RunSummary) PagesFailed() int {
	return r.sum(func(s SiteStats) int { return s.Failed })
}

// PagesSkipped returns the total number of blacklisted or pre-known URLs.
func (r *RunSummary) PagesSkipped() int {
	return r.sum(func(s SiteStats) int { return s.Skipped })
}

// PagesDuplicated returns the total number of pages rejected as duplicate content.
func (r *RunSummary) PagesDuplicated() int {
	return r.sum(func(s SiteStats) int { return s.Duplicates })
}

// PagesFetched returns the total number of URLs fetched across all sites.
func (r *RunSummary) PagesFetched() int {
	return r.sum(func(s SiteStats) int { return s.Fetched })
}

// AnyCompleted reports whether at least one seed crawl completed or was
// cancelled after doing work. It drives the process exit status.
func (r *RunSummary) AnyCompleted() bool {
	for _, s := range r.Sites {
		if s.Status == SiteCompleted || (s.Status == SiteCancelled && s.Fetched > 0) {
			return true
		}
	}
	return false
}

func (r *RunSummary) sum(f func(SiteStats) int) int {
	total := 0
	for _, s := range r.Sites {
		total += f(s)
	}
	return total
}
