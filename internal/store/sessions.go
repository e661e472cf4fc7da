package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"

	"github.com/oklog/ulid/v2"
)

// CreateSession inserts a session row. An empty id is replaced with a new ULID.
func (s *Store) CreateSession(id, title string) (*Session, error) {
	if id == "" {
		id = ulid.Make().String()
	}
	now := nowUTC()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetOrCreateSession returns the session or creates it on first use.
func (s *Store) GetOrCreateSession(id string) (*Session, error) {
	if id == "" {
		return s.CreateSession("", "")
	}
	sess, err := s.GetSession(id)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, kokoroErrors.ErrNotFound) {
		return s.CreateSession(id, "")
	}
	return nil, err
}

func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kokoroErrors.NotFound("session " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// TouchSession bumps updated_at and optionally retitles the session.
func (s *Store) TouchSession(id, title string) error {
	if title != "" {
		_, err := s.db.Exec(`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, nowUTC(), id)
		return err
	}
	_, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, nowUTC(), id)
	return err
}

// DeleteSession removes the session; messages and working memory cascade.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kokoroErrors.NotFound("session " + id)
	}
	_, _ = s.db.Exec(`DELETE FROM graph_states WHERE session_id = ?`, id)
	return nil
}

// AppendMessage appends to the session transcript; the session must exist.
func (s *Store) AppendMessage(sessionID string, role Role, content string) (*Message, error) {
	msg := &Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the most recent limit messages in chronological order.
// limit <= 0 returns everything.
func (s *Store) ListMessages(sessionID string, limit int) ([]Message, error) {
	query := `SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT id, session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at FROM messages
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created time.Time
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = created
		out = append(out, m)
	}
	return out, rows.Err()
}
