package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer renders a Report to its output.
type Writer interface {
	Write(r *Report) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// countingWriter counts the bytes passed through to w.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

// SaveFile creates path and renders r into it with the writer built by
// newWriter.
func SaveFile(path string, r *Report, newWriter func(io.Writer) Writer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if _, err := newWriter(f).Write(r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
