package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
)

// SavePage inserts rec into the pages table under runID. A page whose URL
// is already stored is left untouched and false is returned.
func (s *Store) SavePage(ctx context.Context, runID string, rec *model.PageRecord) (bool, error) {
	iocJSON, err := marshalJSON(rec.Intel)
	if err != nil {
		return false, &StoreError{Op: "save page", Err: fmt.Errorf("failed to serialize intel: %w", err)}
	}

	query := `
	INSERT INTO pages (run_id, url, site, title, depth, crawl_time_s, links_found,
		content_hash, text, ioc_data, risk_score, risk_label, crawled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		runID,
		rec.URL,
		rec.Site,
		rec.Title,
		rec.Depth,
		rec.CrawlSeconds(),
		rec.LinksFound,
		rec.ContentHash,
		rec.Text,
		iocJSON,
		rec.RiskScore(),
		rec.RiskLabel().String(),
		formatTimestamp(rec.CrawledAt),
	)
	if err != nil {
		return false, &StoreError{Op: "save page", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StoreError{Op: "save page", Err: err}
	}
	return n == 1, nil
}

// Pages returns the stored pages of runID in insertion order. An empty
// runID returns every stored page.
func (s *Store) Pages(ctx context.Context, runID string) ([]model.PageRecord, error) {
	query := `
	SELECT url, site, title, depth, crawl_time_s, links_found, content_hash, text, ioc_data, crawled_at
	FROM pages
	`
	args := make([]any, 0, 1)
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "pages", Err: err}
	}
	defer rows.Close()

	var pages []model.PageRecord
	for rows.Next() {
		var (
			rec       model.PageRecord
			seconds   float64
			iocJSON   string
			crawledAt string
		)
		if err := rows.Scan(&rec.URL, &rec.Site, &rec.Title, &rec.Depth, &seconds,
			&rec.LinksFound, &rec.ContentHash, &rec.Text, &iocJSON, &crawledAt); err != nil {
			return nil, &StoreError{Op: "pages", Err: err}
		}
		rec.CrawlTime = time.Duration(seconds * float64(time.Second))
		rec.CrawledAt = parseTimestamp(crawledAt)
		if iocJSON != "" {
			if err := json.Unmarshal([]byte(iocJSON), &rec.Intel); err != nil {
				return nil, &StoreError{Op: "pages", Err: fmt.Errorf("failed to parse ioc_data of %s: %w", rec.URL, err)}
			}
		}
		pages = append(pages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "pages", Err: err}
	}
	return pages, nil
}
