package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the SQLite database of a harvester installation. It holds the
// global dedup index used by every frontier, the durable pages table and
// the history of runs.
//
// All access goes through one connection, so statements are serialized
// and Record is an atomic check-and-insert even when called from many
// frontier goroutines.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file and its directory if
	// they do not exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the database file at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to create database directory: %w", err)}
		}
	} else {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, &StoreError{Op: "open", Err: fmt.Errorf("%w: %s", ErrDatabaseNotFound, dbPath)}
		} else if err != nil {
			return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to check database path: %w", err)}
		}
	}

	// mode=rw refuses to create a missing file; mode=rwc creates it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to enable WAL mode: %w", err)}
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to create tables: %w", err)}
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	-- Every URL whose content was persisted, and the hash of that content.
	CREATE TABLE IF NOT EXISTS seen (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL UNIQUE,
		first_seen_at TEXT NOT NULL
	);

	-- Accepted pages with their intelligence.
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL UNIQUE,
		site TEXT NOT NULL,
		title TEXT,
		depth INTEGER,
		crawl_time_s REAL,
		links_found INTEGER,
		content_hash TEXT,
		text TEXT,
		ioc_data TEXT,
		risk_score REAL,
		risk_label TEXT,
		crawled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_pages_site ON pages(site);
	CREATE INDEX IF NOT EXISTS idx_pages_run ON pages(run_id);

	-- One row per harvest run.
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		summary TEXT
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Seen reports whether url has already been recorded.
func (s *Store) Seen(ctx context.Context, url string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen WHERE url = ?`, url).Scan(&n)
	if err != nil {
		return false, &StoreError{Op: "seen", Err: err}
	}
	return n > 0, nil
}

// SeenHash reports whether content with hash has already been recorded.
func (s *Store) SeenHash(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen WHERE content_hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, &StoreError{Op: "seen hash", Err: err}
	}
	return n > 0, nil
}

// Record inserts (url, hash) unless either is already known. It returns
// true when the row was inserted, meaning the caller owns this content
// and should persist the page.
func (s *Store) Record(ctx context.Context, url, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO seen (url, content_hash, first_seen_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		url, hash, formatTimestamp(time.Now()))
	if err != nil {
		return false, &StoreError{Op: "record", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StoreError{Op: "record", Err: err}
	}
	return n == 1, nil
}

// KnownURLs loads every recorded URL.
func (s *Store) KnownURLs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM seen`)
	if err != nil {
		return nil, &StoreError{Op: "known urls", Err: err}
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, &StoreError{Op: "known urls", Err: err}
		}
		known[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "known urls", Err: err}
	}
	return known, nil
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// timestampLayout has a fixed width so stored timestamps sort correctly
// as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp returns the zero time when s matches no known format.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
