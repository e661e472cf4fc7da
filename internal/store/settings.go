package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
)

// GetSetting returns the persisted value for key or ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kokoroErrors.NotFound("setting " + key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// --- Per-session graph state blobs, persisted after every node ---

func (s *Store) SaveGraphState(sessionID string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO graph_states (session_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		sessionID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save graph state: %w", err)
	}
	return nil
}

func (s *Store) GetGraphState(sessionID string) ([]byte, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM graph_states WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kokoroErrors.NotFound("graph state " + sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get graph state: %w", err)
	}
	return []byte(data), nil
}

func (s *Store) DeleteGraphState(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM graph_states WHERE session_id = ?`, sessionID)
	return err
}
