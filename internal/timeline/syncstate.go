package timeline

import (
	"database/sql"
	"time"
)

// SetCheckpoint stores a sync checkpoint value for a profile.
func (s *Store) SetCheckpoint(profileID, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO sync_state (profile_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		profileID, key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value. Missing keys return
// an empty string and no error.
func (s *Store) GetCheckpoint(profileID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE profile_id = ? AND key = ?`,
		profileID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
