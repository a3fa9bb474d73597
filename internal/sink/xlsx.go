package sink

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/nao1215/onionharvest/internal/model"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the XLSX export.
const (
	PagesSheet = "Pages"
	IOCsSheet  = "IOCs"
)

// maxCellChars is the Excel limit on characters in one cell.
const maxCellChars = 32767

// XLSX buffers records and writes a workbook with a Pages sheet and an
// IOCs sheet on Close.
type XLSX struct {
	path string

	mu      sync.Mutex
	records []model.PageRecord
	closed  bool
}

// NewXLSX creates a sink that writes the workbook to path on Close.
func NewXLSX(path string) *XLSX {
	return &XLSX{path: path}
}

// Name returns "xlsx".
func (s *XLSX) Name() string {
	return "xlsx"
}

// Path returns the output file path.
func (s *XLSX) Path() string {
	return s.path
}

// Append buffers a copy of rec.
func (s *XLSX) Append(_ context.Context, rec *model.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records = append(s.records, *rec)
	return nil
}

// Close writes the workbook.
func (s *XLSX) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", PagesSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(IOCsSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	pagesHeader := append(append([]string{}, CSVHeader...), "Risk", "Label")
	if err := setRow(f, PagesSheet, 1, pagesHeader); err != nil {
		return err
	}
	if err := setRow(f, IOCsSheet, 1, []string{"URL", "Kind", "Value"}); err != nil {
		return err
	}
	for _, sheet := range []string{PagesSheet, IOCsSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return err
		}
	}

	iocRow := 2
	for i := range s.records {
		rec := &s.records[i]
		row := Row(rec)
		row[len(row)-1] = truncateCell(row[len(row)-1])
		cells := make([]any, 0, len(row)+2)
		for _, v := range row {
			cells = append(cells, v)
		}
		cells = append(cells, rec.RiskScore(), rec.RiskLabel().String())
		if err := setRow(f, PagesSheet, i+2, cells); err != nil {
			return err
		}

		for _, kind := range model.IOCKinds {
			for _, v := range rec.Intel.IOCs.Values(kind) {
				if err := setRow(f, IOCsSheet, iocRow, []string{rec.URL, string(kind), v}); err != nil {
					return err
				}
				iocRow++
			}
		}
	}

	if err := f.SetColWidth(PagesSheet, "A", "C", 40); err != nil {
		return err
	}
	if err := f.SetColWidth(IOCsSheet, "A", "A", 60); err != nil {
		return err
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func setRow[T any](f *excelize.File, sheet string, row int, values []T) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func truncateCell(s string) string {
	if utf8.RuneCountInString(s) <= maxCellChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxCellChars])
}
