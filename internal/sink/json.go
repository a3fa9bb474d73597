package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/nao1215/onionharvest/internal/model"
)

// JSON streams records as one JSON array.
type JSON struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	count  int
	closed bool
}

// NewJSON creates the file at path and writes the opening bracket.
func NewJSON(path string) (*JSON, error) {
	f, err := os.Create(path) //nolint:gosec // path is built from the configured output directory
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON output: %w", err)
	}
	s := &JSON{file: f, w: bufio.NewWriter(f)}
	if _, err := s.w.WriteString("["); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Name returns "json".
func (s *JSON) Name() string {
	return "json"
}

// Path returns the output file path.
func (s *JSON) Path() string {
	return s.file.Name()
}

// Append writes rec as the next array element.
func (s *JSON) Append(_ context.Context, rec *model.PageRecord) error {
	data, err := json.MarshalIndent(rec, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.URL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	sep := "\n  "
	if s.count > 0 {
		sep = ",\n  "
	}
	if _, err := s.w.WriteString(sep); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	s.count++
	return s.w.Flush()
}

// Close terminates the array and closes the file.
func (s *JSON) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if _, err := s.w.WriteString("\n]\n"); err != nil {
		_ = s.file.Close()
		return err
	}
	if err := s.w.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
