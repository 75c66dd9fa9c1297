package area

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore persists area offsets in the shared SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an already-opened database. The schema
// is owned by the db package.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SaveOffset upserts the offset for an area.
func (s *SQLiteStore) SaveOffset(areaID string, offset time.Duration) error {
	now := time.Now().UTC().Unix()

	_, err := s.db.Exec(`
		INSERT INTO area_offsets (area_id, offset_seconds, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(area_id) DO UPDATE SET
			offset_seconds = excluded.offset_seconds,
			updated_at = excluded.updated_at
	`, areaID, int64(offset/time.Second), now)
	if err != nil {
		return fmt.Errorf("failed to save offset for %s: %w", areaID, err)
	}
	return nil
}

// LoadOffsets reads all persisted offsets.
func (s *SQLiteStore) LoadOffsets() (map[string]time.Duration, error) {
	rows, err := s.db.Query(`SELECT area_id, offset_seconds FROM area_offsets`)
	if err != nil {
		return nil, fmt.Errorf("failed to load offsets: %w", err)
	}
	defer rows.Close()

	offsets := make(map[string]time.Duration)
	for rows.Next() {
		var areaID string
		var seconds int64
		if err := rows.Scan(&areaID, &seconds); err != nil {
			return nil, fmt.Errorf("failed to scan offset row: %w", err)
		}
		offsets[areaID] = time.Duration(seconds) * time.Second
	}
	return offsets, rows.Err()
}
