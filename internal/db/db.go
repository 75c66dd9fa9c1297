// Package db provides the shared database connection and schema for glowd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Per-area time offsets. Modes are deliberately not stored: after a
	// restart every area comes back off, only its offset survives.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS area_offsets (
			area_id TEXT PRIMARY KEY,
			offset_seconds INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create area_offsets table: %w", err)
	}

	// Curve parameter sets, keyed by name. Only "active" is read today;
	// the key leaves room for per-area curves later.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS curve_params (
			name TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create curve_params table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
