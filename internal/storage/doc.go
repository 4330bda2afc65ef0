// Package storage persists terminal executions for the history store.
//
// Drivers:
//   - "memory": process-local map, the default
//   - "file": JSON Lines journal plus a periodic snapshot
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
