// Package database provides the SQLite store of the harvester.
//
// One database file holds three tables:
//   - seen: the global dedup index of (url, content_hash) pairs. Both
//     columns are UNIQUE and rows are inserted with ON CONFLICT DO
//     NOTHING, so the first frontier to record a hash wins.
//   - pages: the durable result table written by the SQLite sink.
//   - runs: one row per harvest run with its JSON summary.
//
// We use modernc.org/sqlite, a CGO-free driver, so the binary cross
// compiles and the database is a single file. The store keeps a single
// open connection and enables WAL mode.
//
// Rows are only ever inserted by a crawl. Nothing in the harvester updates
// or deletes dedup entries, so --resume can trust them across restarts.
package database
