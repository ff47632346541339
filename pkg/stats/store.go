// Package stats persists minute, hourly, and daily aggregates in
// SQLite. Aggregate rows are written only by the aggregation engine and
// are never deleted: they remain the historical record after the raw
// readings behind them have been pruned.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

// Timestamp layouts used in bucket key columns.
const (
	TimeLayout = "2006-01-02 15:04:05"
	DateLayout = "2006-01-02"
)

// Store wraps the SQLite connection holding the aggregate tables.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or opens) the aggregate database and initializes the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create stats directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to stats database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.configure(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.createSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close shuts down the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// configure sets pragmas for a long-running single-writer workload.
func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS minute_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			interval_start TEXT NOT NULL,
			interval_minutes INTEGER NOT NULL,
			co2_min INTEGER,
			co2_max INTEGER,
			co2_avg REAL,
			co2_count INTEGER,
			temp_min REAL,
			temp_max REAL,
			temp_avg REAL,
			UNIQUE(interval_start, interval_minutes)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_minute_interval_start
			ON minute_stats(interval_start)`,

		`CREATE TABLE IF NOT EXISTS hourly_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hour_start TEXT NOT NULL UNIQUE,
			co2_min INTEGER,
			co2_max INTEGER,
			co2_avg REAL,
			co2_count INTEGER,
			temp_min REAL,
			temp_max REAL,
			temp_avg REAL,
			is_workday BOOLEAN,
			is_daytime BOOLEAN,
			hour_of_day INTEGER,
			day_of_week INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hourly_hour_of_day
			ON hourly_stats(hour_of_day)`,
		`CREATE INDEX IF NOT EXISTS idx_hourly_day_of_week
			ON hourly_stats(day_of_week)`,

		`CREATE TABLE IF NOT EXISTS daily_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL UNIQUE,
			co2_min INTEGER,
			co2_max INTEGER,
			co2_avg REAL,
			co2_day_avg REAL,
			co2_night_avg REAL,
			temp_min REAL,
			temp_max REAL,
			temp_avg REAL,
			measurement_count INTEGER,
			is_weekend BOOLEAN
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}
