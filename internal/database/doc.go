// Package database provides SQLite-backed persistence for the proxy
// registry: the proxy records themselves, validation results, the
// lifecycle event log, scheduler task history, and statistics
// snapshots. All state lives in one database file in the data
// directory.
package database
