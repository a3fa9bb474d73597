package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("sink closed")

// Sink receives accepted pages.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Append writes one record. It must be safe for concurrent use.
	Append(ctx context.Context, rec *model.PageRecord) error

	// Close flushes buffered output and releases resources.
	Close() error
}

// TimestampLayout formats the run timestamp embedded in file names.
const TimestampLayout = "20060102_150405"

// FileName returns dir/prefix_YYYYMMDD_HHMMSS.ext for t.
func FileName(dir, prefix, ext string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, t.Format(TimestampLayout), ext))
}

// Multi fans every record out to a list of sinks.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti creates a Multi over sinks.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{sinks: sinks, logger: logger}
}

// Name returns "multi".
func (m *Multi) Name() string {
	return "multi"
}

// Append writes rec to every sink. A failing sink does not stop the
// others; all failures are joined into the returned error.
func (m *Multi) Append(ctx context.Context, rec *model.PageRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, rec); err != nil {
			m.logger.Error("sink append failed", "sink", s.Name(), "url", rec.URL, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Collector keeps every appended record in memory.
type Collector struct {
	mu      sync.Mutex
	records []model.PageRecord
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Name returns "collector".
func (c *Collector) Name() string {
	return "collector"
}

// Append stores a copy of rec.
func (c *Collector) Append(_ context.Context, rec *model.PageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, *rec)
	return nil
}

// Close does nothing.
func (c *Collector) Close() error {
	return nil
}

// Records returns the collected records in arrival order.
func (c *Collector) Records() []model.PageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.PageRecord(nil), c.records...)
}
