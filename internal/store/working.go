package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
)

// GetWorkingMemory returns the session's working memory row, or ErrNotFound.
func (s *Store) GetWorkingMemory(sessionID string) (*WorkingMemory, error) {
	var wm WorkingMemory
	err := s.db.QueryRow(
		`SELECT session_id, current_topic, context_variables, turn_count, last_emotion, created_at, updated_at
		 FROM working_memory WHERE session_id = ?`, sessionID,
	).Scan(&wm.SessionID, &wm.CurrentTopic, &wm.ContextVariables, &wm.TurnCount, &wm.LastEmotion, &wm.CreatedAt, &wm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kokoroErrors.NotFound("working memory " + sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get working memory: %w", err)
	}
	return &wm, nil
}

// PutWorkingMemory upserts the row. The session must exist (FK).
func (s *Store) PutWorkingMemory(wm *WorkingMemory) error {
	now := nowUTC()
	if wm.CreatedAt.IsZero() {
		wm.CreatedAt = now
	}
	wm.UpdatedAt = now
	if wm.ContextVariables == "" {
		wm.ContextVariables = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO working_memory (session_id, current_topic, context_variables, turn_count, last_emotion, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			current_topic = excluded.current_topic,
			context_variables = excluded.context_variables,
			turn_count = excluded.turn_count,
			last_emotion = excluded.last_emotion,
			updated_at = excluded.updated_at`,
		wm.SessionID, wm.CurrentTopic, wm.ContextVariables, wm.TurnCount, wm.LastEmotion, wm.CreatedAt, wm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put working memory: %w", err)
	}
	return nil
}

func (s *Store) DeleteWorkingMemory(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM working_memory WHERE session_id = ?`, sessionID)
	return err
}

// CleanupExpiredWorkingMemory deletes rows idle longer than the given window
// and returns how many were removed.
func (s *Store) CleanupExpiredWorkingMemory(inactivity time.Duration) (int, error) {
	cutoff := nowUTC().Add(-inactivity)
	res, err := s.db.Exec(`DELETE FROM working_memory WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup working memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
