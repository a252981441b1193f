// Package store keeps the history of validate-nb runs in SQLite.
//
// Two tables are kept:
//   - runs: one row per invocation with its outcome counts
//   - cell_results: one row per verified cell, holding the plain-text
//     failure report for cells that did not pass
//
// Every connection is opened in WAL mode with synchronous=NORMAL, a five
// second busy timeout and foreign keys enforced, so deleting a run removes
// its cell results.
//
// Run ids are UUIDv7, so ids sort in creation order. Timestamps are stored
// as fixed-width RFC 3339 text in UTC and compare correctly as strings.
package store
