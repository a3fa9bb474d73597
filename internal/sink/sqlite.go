package sink

import (
	"context"
	"log/slog"

	"github.com/nao1215/onionharvest/internal/model"
)

// PageStore persists pages. *database.Store implements it.
type PageStore interface {
	SavePage(ctx context.Context, runID string, rec *model.PageRecord) (bool, error)
}

// SQLite writes records into the pages table of the harvester database.
// The store is owned by the caller and is not closed by the sink.
type SQLite struct {
	store  PageStore
	runID  string
	logger *slog.Logger
}

// NewSQLite creates a sink that tags every page with runID.
func NewSQLite(store PageStore, runID string, logger *slog.Logger) *SQLite {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLite{store: store, runID: runID, logger: logger}
}

// Name returns "sqlite".
func (s *SQLite) Name() string {
	return "sqlite"
}

// Append inserts rec. A URL that is already stored is skipped.
func (s *SQLite) Append(ctx context.Context, rec *model.PageRecord) error {
	inserted, err := s.store.SavePage(ctx, s.runID, rec)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Debug("page already stored", "url", rec.URL)
	}
	return nil
}

// Close does nothing.
func (s *SQLite) Close() error {
	return nil
}
