// Package sink writes accepted page records to their destinations.
//
// Every sink implements Sink and is safe for concurrent Append calls from
// many frontier goroutines. Multi fans one record out to several sinks.
//
// Available sinks:
//   - JSON: results_YYYYMMDD_HHMMSS.json, an array of page records
//   - CSV: results_YYYYMMDD_HHMMSS.csv, one flattened row per page
//   - SQLite: the pages table of the harvester database
//   - XLSX: results_YYYYMMDD_HHMMSS.xlsx with Pages and IOCs sheets
//   - Collector: keeps records in memory for the end-of-run reports
//
// File sinks stream records as they arrive, except XLSX, which is built
// on Close.
package sink
