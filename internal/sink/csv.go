package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/nao1215/onionharvest/internal/model"
)

// CSVHeader is the header row of the CSV export.
var CSVHeader = []string{"URL", "Site", "Title", "Depth", "CrawlTime(s)", "LinksFound", "ContentHash", "Text"}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// CSV streams one row per record.
type CSV struct {
	mu     sync.Mutex
	file   *os.File
	w      *csv.Writer
	closed bool
}

// NewCSV creates the file at path and writes the header row.
func NewCSV(path string) (*CSV, error) {
	f, err := os.Create(path) //nolint:gosec // path is built from the configured output directory
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV output: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &CSV{file: f, w: w}, nil
}

// Name returns "csv".
func (s *CSV) Name() string {
	return "csv"
}

// Path returns the output file path.
func (s *CSV) Path() string {
	return s.file.Name()
}

// Row returns the CSV fields of rec. Newlines in the text become spaces.
func Row(rec *model.PageRecord) []string {
	return []string{
		rec.URL,
		rec.Site,
		rec.Title,
		strconv.Itoa(rec.Depth),
		strconv.FormatFloat(rec.CrawlSeconds(), 'f', 3, 64),
		strconv.Itoa(rec.LinksFound),
		rec.ContentHash,
		newlineReplacer.Replace(rec.Text),
	}
}

// Append writes rec as one row.
func (s *CSV) Append(_ context.Context, rec *model.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.w.Write(Row(rec)); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the file.
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
