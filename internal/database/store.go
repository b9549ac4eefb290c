package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store provides SQLite-based storage for the proxy registry.
// It manages connection pooling and provides methods for CRUD operations.
//
// Design decision: We use a single database file for all partitions
// rather than one file per status. Status is a column, so records move
// between partitions with an UPDATE instead of a cross-file move, and
// backup/restore stays a single-file operation.
type Store struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string

	// eventLogCap bounds the lifecycle event log.
	eventLogCap int

	// taskHistoryCap bounds the scheduler task history.
	taskHistoryCap int
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool

	// EventLogCap bounds the lifecycle event log; the oldest entries
	// are trimmed past the cap. Zero means the default of 10000.
	EventLogCap int

	// TaskHistoryCap bounds the scheduler task history. Zero means the
	// default of 1000.
	TaskHistoryCap int
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		EventLogCap:       10000,
		TaskHistoryCap:    1000,
	}
}

// Open opens or creates a Store at the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, "proxyscan.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating
	// new files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:             db,
		dbPath:         dbPath,
		eventLogCap:    opts.EventLogCap,
		taskHistoryCap: opts.TaskHistoryCap,
	}
	if s.eventLogCap <= 0 {
		s.eventLogCap = 10000
	}
	if s.taskHistoryCap <= 0 {
		s.taskHistoryCap = 1000
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	-- Proxy records, identified by (ip, port, protocol). The status
	-- column partitions the pool.
	CREATE TABLE IF NOT EXISTS proxies (
		ip TEXT NOT NULL,
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		country TEXT DEFAULT '',
		anonymity_claim TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'untested',
		response_time REAL DEFAULT 0,
		fail_count INTEGER DEFAULT 0,
		first_seen DATETIME,
		last_tested DATETIME,
		last_success DATETIME,
		source TEXT DEFAULT '',
		PRIMARY KEY (ip, port, protocol)
	);

	CREATE INDEX IF NOT EXISTS idx_proxies_status ON proxies(status);
	CREATE INDEX IF NOT EXISTS idx_proxies_last_tested ON proxies(last_tested);

	-- Validation results store the full five-layer verdict as JSON.
	CREATE TABLE IF NOT EXISTS validation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_key TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		overall_score REAL NOT NULL,
		grade TEXT NOT NULL,
		result_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_key ON validation_results(proxy_key);
	CREATE INDEX IF NOT EXISTS idx_results_timestamp ON validation_results(timestamp);

	-- Lifecycle events record every status transition and pool action.
	CREATE TABLE IF NOT EXISTS lifecycle_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		proxy_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		previous_status TEXT DEFAULT '',
		new_status TEXT DEFAULT '',
		details TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_events_key ON lifecycle_events(proxy_key);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON lifecycle_events(timestamp);

	-- Scheduler task history.
	CREATE TABLE IF NOT EXISTS task_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task TEXT NOT NULL,
		started DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		detail TEXT DEFAULT ''
	);

	-- Point-in-time pool statistics snapshots as JSON.
	CREATE TABLE IF NOT EXISTS stats_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		snapshot_json TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// SQLite may return timestamps in different formats depending on configuration.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// formatTimestamp stores a time in the SQLite default datetime format.
// Zero times are stored as NULL.
func formatTimestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// scanTimestamp converts a nullable column back into a time.
func scanTimestamp(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	return parseTimestamp(v.String)
}
