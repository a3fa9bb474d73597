package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/onionharvest/internal/log"
	"github.com/nao1215/onionharvest/internal/model"
	"github.com/xuri/excelize/v2"
)

func testRecord(i int) *model.PageRecord {
	return &model.PageRecord{
		URL:         fmt.Sprintf("http://a.onion/page%d", i),
		Site:        "http://a.onion",
		Title:       fmt.Sprintf("Page %d", i),
		Depth:       i % 3,
		CrawlTime:   1250 * time.Millisecond,
		LinksFound:  i,
		ContentHash: fmt.Sprintf("%064d", i),
		Text:        "line one\nline two\r\nline three",
		Intel: model.Intel{
			IOCs: model.IOCs{
				Emails: []string{"ops@example.com"},
				CVEs:   []string{"CVE-2024-1234"},
			},
			Threat: model.Threat{Score: 4.2, Label: model.RiskMedium},
		},
		CrawledAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 1, 9, 5, 7, 0, time.UTC)
	got := FileName("out", "results", "json", ts)
	if want := filepath.Join("out", "results_20250301_090507.json"); got != want {
		t.Errorf("FileName() = %s, want %s", got, want)
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("concurrent appends form one array", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "results.json")
		s, err := NewJSON(path)
		if err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Append(t.Context(), testRecord(i)); err != nil {
					t.Errorf("Append() error: %v", err)
				}
			}()
		}
		wg.Wait()
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var got []map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("output is not a JSON array: %v\n%s", err, data)
		}
		if len(got) != 10 {
			t.Fatalf("expected 10 records, got %d", len(got))
		}
		for _, key := range []string{"url", "site", "title", "depth", "crawl_time_s", "links_found",
			"content_hash", "text", "ioc_data", "risk_score", "risk_label", "crawled_at"} {
			if _, ok := got[0][key]; !ok {
				t.Errorf("missing field %q", key)
			}
		}
	})

	t.Run("empty run is an empty array", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "results.json")
		s, err := NewJSON(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(path)
		var got []any
		if err := json.Unmarshal(data, &got); err != nil || len(got) != 0 {
			t.Errorf("expected empty array, got %s (%v)", data, err)
		}
	})

	t.Run("append after close", func(t *testing.T) {
		t.Parallel()

		s, err := NewJSON(filepath.Join(t.TempDir(), "results.json"))
		if err != nil {
			t.Fatal(err)
		}
		_ = s.Close()
		if err := s.Append(t.Context(), testRecord(1)); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close() error: %v", err)
		}
	})
}

func TestCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.csv")
	s, err := NewCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := s.Append(t.Context(), testRecord(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header and 3 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "URL,Site,Title,Depth,CrawlTime(s),LinksFound,ContentHash,Text" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	row := rows[2]
	if row[0] != "http://a.onion/page1" || row[3] != "1" || row[4] != "1.250" || row[5] != "1" {
		t.Errorf("unexpected row: %v", row)
	}
	if row[7] != "line one line two line three" {
		t.Errorf("newlines not flattened: %q", row[7])
	}
}

type fakePageStore struct {
	mu    sync.Mutex
	saved map[string]string
	err   error
}

func (f *fakePageStore) SavePage(_ context.Context, runID string, rec *model.PageRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.saved[rec.URL]; ok {
		return false, nil
	}
	f.saved[rec.URL] = runID
	return true, nil
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	store := &fakePageStore{saved: map[string]string{}}
	s := NewSQLite(store, "run-7", log.Discard())
	rec := testRecord(1)
	for range 2 {
		if err := s.Append(t.Context(), rec); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if store.saved[rec.URL] != "run-7" || len(store.saved) != 1 {
		t.Errorf("unexpected saved pages: %v", store.saved)
	}
}

func TestXLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.xlsx")
	s := NewXLSX(path)
	for i := range 2 {
		if err := s.Append(t.Context(), testRecord(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	pages, err := f.GetRows(PagesSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected header and 2 page rows, got %d", len(pages))
	}
	if pages[0][8] != "Risk" || pages[0][9] != "Label" {
		t.Errorf("unexpected header: %v", pages[0])
	}
	if pages[1][9] != "Medium" {
		t.Errorf("unexpected label cell: %v", pages[1])
	}

	iocs, err := f.GetRows(IOCsSheet)
	if err != nil {
		t.Fatal(err)
	}
	// header + (email, cve) per page
	if len(iocs) != 5 {
		t.Fatalf("expected 5 IOC rows, got %d", len(iocs))
	}
	if iocs[1][1] != "email" || iocs[1][2] != "ops@example.com" {
		t.Errorf("unexpected IOC row: %v", iocs[1])
	}
}

type failingSink struct{ name string }

func (f failingSink) Name() string                                    { return f.name }
func (f failingSink) Append(context.Context, *model.PageRecord) error { return errors.New("boom") }
func (f failingSink) Close() error                                    { return nil }

func TestMulti(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	m := NewMulti(log.Discard(), failingSink{name: "broken"}, c)
	if m.Len() != 2 {
		t.Errorf("expected 2 sinks, got %d", m.Len())
	}

	err := m.Append(t.Context(), testRecord(1))
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("expected joined error naming the sink, got %v", err)
	}
	if len(c.Records()) != 1 {
		t.Error("a failing sink must not stop the others")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestTruncateCell(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", maxCellChars+10)
	if got := truncateCell(long); len([]rune(got)) != maxCellChars {
		t.Errorf("expected %d runes, got %d", maxCellChars, len([]rune(got)))
	}
	if truncateCell("short") != "short" {
		t.Error("short strings must be kept")
	}
}
