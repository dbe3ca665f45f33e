// Package storage persists task run records.
//
// Backends:
//   - file: append-only JSON Lines (<prefix>.runs.jsonl)
//   - sqlite: a "runs" table in a SQLite database (modernc.org/sqlite, no cgo)
package storage
