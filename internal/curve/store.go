package curve

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// activeParamsKey is the single parameter set glowd evaluates today.
const activeParamsKey = "active"

// SQLiteStore persists curve parameters in the shared SQLite database.
// Parameters arriving over the wire are validated before they reach the
// store, so a load never yields an unusable set.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an already-opened database. The schema
// is owned by the db package.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SaveParams upserts the active parameter set.
func (s *SQLiteStore) SaveParams(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid params: %w", err)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	now := time.Now().UTC().Unix()

	_, err = s.db.Exec(`
		INSERT INTO curve_params (name, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, activeParamsKey, string(payload), now)
	if err != nil {
		return fmt.Errorf("failed to save params: %w", err)
	}
	return nil
}

// LoadParams reads the active parameter set. Returns (fallback, false, nil)
// when nothing was persisted yet.
func (s *SQLiteStore) LoadParams(fallback Params) (Params, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM curve_params WHERE name = ?`, activeParamsKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return fallback, false, nil
	}
	if err != nil {
		return fallback, false, fmt.Errorf("failed to load params: %w", err)
	}

	var p Params
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fallback, false, fmt.Errorf("failed to decode params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fallback, false, fmt.Errorf("persisted params invalid: %w", err)
	}
	return p, true, nil
}
