package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
)

// ErrRunNotFound is returned when no run matches a lookup.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Summary  model.RunSummary
}

// SaveRun stores summary, replacing an earlier row of the same run.
func (s *Store) SaveRun(ctx context.Context, summary model.RunSummary) error {
	summaryJSON, err := marshalJSON(summary)
	if err != nil {
		return &StoreError{Op: "save run", Err: fmt.Errorf("failed to serialize summary: %w", err)}
	}

	var finished string
	if !summary.Finished.IsZero() {
		finished = formatTimestamp(summary.Finished)
	}

	query := `
	INSERT INTO runs (run_id, started_at, finished_at, summary)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		finished_at = excluded.finished_at,
		summary = excluded.summary
	`
	if _, err := s.db.ExecContext(ctx, query,
		summary.RunID, formatTimestamp(summary.Started), finished, summaryJSON); err != nil {
		return &StoreError{Op: "save run", Err: err}
	}
	return nil
}

// Run returns the run with the given id.
func (s *Store) Run(ctx context.Context, id string) (*RunRecord, error) {
	return s.queryRun(ctx, `SELECT run_id, started_at, finished_at, summary FROM runs WHERE run_id = ?`, id)
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*RunRecord, error) {
	return s.queryRun(ctx, `SELECT run_id, started_at, finished_at, summary FROM runs ORDER BY started_at DESC LIMIT 1`)
}

// Runs lists every run, most recent first.
func (s *Store) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, started_at, finished_at, summary FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, &StoreError{Op: "runs", Err: err}
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, &StoreError{Op: "runs", Err: err}
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "runs", Err: err}
	}
	return runs, nil
}

func (s *Store) queryRun(ctx context.Context, query string, args ...any) (*RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "run", Err: err}
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		run         RunRecord
		started     string
		finished    sql.NullString
		summaryJSON sql.NullString
	)
	if err := row.Scan(&run.ID, &started, &finished, &summaryJSON); err != nil {
		return nil, err
	}
	run.Started = parseTimestamp(started)
	if finished.Valid {
		run.Finished = parseTimestamp(finished.String)
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		if err := json.Unmarshal([]byte(summaryJSON.String), &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to parse summary of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}
