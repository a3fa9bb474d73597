package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbPath := filepath.Join(t.TempDir(), "newdir", "subdir", "h.db")
		s, err := Open(dbPath, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer s.Close()

		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
		if s.Path() != dbPath {
			t.Errorf("expected path %s, got %s", dbPath, s.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "missing")
		_, err := Open(filepath.Join(dbDir, "h.db"), Options{EnableWAL: true})
		if !errors.Is(err, ErrDatabaseNotFound) {
			t.Fatalf("expected ErrDatabaseNotFound, got %v", err)
		}
		var storeErr *StoreError
		if !errors.As(err, &storeErr) || storeErr.Op != "open" {
			t.Errorf("expected open StoreError, got %v", err)
		}
		if _, statErr := os.Stat(dbDir); !os.IsNotExist(statErr) {
			t.Error("directory must not be created when CreateIfNotExists=false")
		}
	})

	t.Run("data survives reopening", func(t *testing.T) {
		t.Parallel()

		dbPath := filepath.Join(t.TempDir(), "h.db")
		s1, err := Open(dbPath, DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		if ok, err := s1.Record(t.Context(), "http://a.onion/", "h1"); err != nil || !ok {
			t.Fatalf("Record() = %v, %v", ok, err)
		}
		s1.Close()

		s2, err := Open(dbPath, Options{EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen: %v", err)
		}
		defer s2.Close()

		if seen, err := s2.Seen(t.Context(), "http://a.onion/"); err != nil || !seen {
			t.Errorf("Seen() after reopen = %v, %v", seen, err)
		}
	})
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	if !opts.CreateIfNotExists || !opts.EnableWAL {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}

func TestRecord(t *testing.T) {
	t.Parallel()

	s := setupTestDB(t)
	ctx := t.Context()

	steps := []struct {
		url, hash string
		want      bool
	}{
		{"http://a.onion/", "h1", true},
		{"http://a.onion/", "h1", false},
		{"http://a.onion/mirror", "h1", false},
		{"http://a.onion/", "h2", false},
		{"http://a.onion/other", "h2", true},
	}
	for i, st := range steps {
		got, err := s.Record(ctx, st.url, st.hash)
		if err != nil {
			t.Fatalf("step %d: Record() error: %v", i, err)
		}
		if got != st.want {
			t.Errorf("step %d: Record(%s, %s) = %v, want %v", i, st.url, st.hash, got, st.want)
		}
	}

	if seen, _ := s.Seen(ctx, "http://a.onion/mirror"); seen {
		t.Error("a rejected url must not be recorded")
	}
	if seen, _ := s.SeenHash(ctx, "h2"); !seen {
		t.Error("expected h2 to be known")
	}
	if seen, _ := s.SeenHash(ctx, "h3"); seen {
		t.Error("h3 must be unknown")
	}

	known, err := s.KnownURLs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(known) != 2 || !known["http://a.onion/"] || !known["http://a.onion/other"] {
		t.Errorf("unexpected known urls: %v", known)
	}
}

func TestRecordConcurrent(t *testing.T) {
	t.Parallel()

	s := setupTestDB(t)

	const workers = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Record(t.Context(), fmt.Sprintf("http://site%d.onion/", i), "same-hash")
			if err != nil {
				errs <- err
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Record() error: %v", err)
	}
	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner for a shared hash, got %d", wins.Load())
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "h.db"), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = s.Record(t.Context(), "http://a.onion/", "h")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "record" {
		t.Errorf("expected record StoreError, got %v", err)
	}
}

func TestPages(t *testing.T) {
	t.Parallel()

	s := setupTestDB(t)
	ctx := t.Context()

	crawled := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	rec := &model.PageRecord{
		URL:         "http://a.onion/",
		Site:        "http://a.onion",
		Title:       "Market",
		Depth:       1,
		CrawlTime:   1500 * time.Millisecond,
		LinksFound:  4,
		ContentHash: "abc",
		Text:        "bitcoin escrow",
		Intel: model.Intel{
			IOCs:   model.IOCs{Emails: []string{"admin@example.com"}},
			Threat: model.Threat{Score: 7.5, Label: model.RiskHigh, Categories: []string{"marketplace"}},
		},
		CrawledAt: crawled,
	}

	if ok, err := s.SavePage(ctx, "run-1", rec); err != nil || !ok {
		t.Fatalf("SavePage() = %v, %v", ok, err)
	}
	if ok, err := s.SavePage(ctx, "run-2", rec); err != nil || ok {
		t.Errorf("second SavePage() of the same url = %v, %v", ok, err)
	}
	other := *rec
	other.URL = "http://b.onion/"
	if _, err := s.SavePage(ctx, "run-2", &other); err != nil {
		t.Fatal(err)
	}

	pages, err := s.Pages(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page for run-1, got %d", len(pages))
	}
	got := pages[0]
	if got.URL != rec.URL || got.Title != "Market" || got.Depth != 1 || got.LinksFound != 4 {
		t.Errorf("unexpected page: %+v", got)
	}
	if got.CrawlTime != rec.CrawlTime || !got.CrawledAt.Equal(crawled) {
		t.Errorf("times not preserved: %v %v", got.CrawlTime, got.CrawledAt)
	}
	if got.RiskLabel() != model.RiskHigh || len(got.Intel.IOCs.Emails) != 1 {
		t.Errorf("intel not preserved: %+v", got.Intel)
	}

	all, err := s.Pages(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1].URL != "http://b.onion/" {
		t.Errorf("unexpected pages: %d", len(all))
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()

	s := setupTestDB(t)
	ctx := t.Context()

	if _, err := s.LatestRun(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound on empty store, got %v", err)
	}

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := model.RunSummary{RunID: "r1", Started: base}
	second := model.RunSummary{RunID: "r2", Started: base.Add(time.Hour)}
	for _, r := range []model.RunSummary{first, second} {
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	second.Finished = second.Started.Add(10 * time.Minute)
	second.Sites = []model.SiteStats{{Site: "http://a.onion", Accepted: 3, Status: model.SiteCompleted}}
	if err := s.SaveRun(ctx, second); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "r2" || !latest.Finished.Equal(second.Finished) {
		t.Errorf("unexpected latest run: %+v", latest)
	}
	if latest.Summary.PagesAccepted() != 3 {
		t.Errorf("summary not stored: %+v", latest.Summary)
	}

	r1, err := s.Run(ctx, "r1")
	if err != nil || !r1.Finished.IsZero() {
		t.Errorf("Run(r1) = %+v, %v", r1, err)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" {
		t.Errorf("unexpected runs: %+v", runs)
	}

	if _, err := s.Run(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-01-15T10:30:00.000000000Z",
		"2024-01-15T10:30:00Z",
		"2024-01-15 10:30:00",
		"2024-01-15T10:30:00",
	} {
		if got := parseTimestamp(s); !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v", s, got)
		}
	}
	if !parseTimestamp("yesterday").IsZero() {
		t.Error("unknown format must yield zero time")
	}
	if got := formatTimestamp(want); got != "2024-01-15T10:30:00.000000000Z" {
		t.Errorf("formatTimestamp() = %s", got)
	}
}
