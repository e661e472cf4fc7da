package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"

	"github.com/oklog/ulid/v2"
)

const memoryColumns = `id, session_id, category, key, value, confidence, source,
	created_at, last_accessed, access_count,
	target_time, reminder_offset_minutes, repeat_type, plan_status, snooze_until`

func scanMemory(scan func(...any) error) (*MemoryEntry, error) {
	var m MemoryEntry
	var sessionID sql.NullString
	var targetTime, snoozeUntil sql.NullTime
	err := scan(
		&m.ID, &sessionID, &m.Category, &m.Key, &m.Value, &m.Confidence, &m.Source,
		&m.CreatedAt, &m.LastAccessed, &m.AccessCount,
		&targetTime, &m.ReminderOffsetMn, &m.RepeatType, &m.PlanStatus, &snoozeUntil,
	)
	if err != nil {
		return nil, err
	}
	m.SessionID = sessionID.String
	if targetTime.Valid {
		t := targetTime.Time
		m.TargetTime = &t
	}
	if snoozeUntil.Valid {
		t := snoozeUntil.Time
		m.SnoozeUntil = &t
	}
	return &m, nil
}

// InsertMemory stores a long-term entry and mirrors it into the FTS index.
func (s *Store) InsertMemory(m *MemoryEntry) error {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	now := nowUTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessed.IsZero() {
		m.LastAccessed = now
	}
	if m.RepeatType == "" {
		m.RepeatType = RepeatNone
	}

	var sessionID any
	if m.SessionID != "" {
		sessionID = m.SessionID
	}

	_, err := s.db.Exec(
		`INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, sessionID, m.Category, m.Key, m.Value, m.Confidence, m.Source,
		m.CreatedAt, m.LastAccessed, m.AccessCount,
		nullTime(m.TargetTime), m.ReminderOffsetMn, m.RepeatType, m.PlanStatus, nullTime(m.SnoozeUntil),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	s.indexMemory(m)
	return nil
}

// UpdateMemory rewrites the mutable columns of an entry and resyncs the index.
func (s *Store) UpdateMemory(m *MemoryEntry) error {
	res, err := s.db.Exec(
		`UPDATE memories SET category = ?, key = ?, value = ?, confidence = ?, source = ?,
			last_accessed = ?, access_count = ?,
			target_time = ?, reminder_offset_minutes = ?, repeat_type = ?, plan_status = ?, snooze_until = ?
		 WHERE id = ?`,
		m.Category, m.Key, m.Value, m.Confidence, m.Source,
		m.LastAccessed, m.AccessCount,
		nullTime(m.TargetTime), m.ReminderOffsetMn, m.RepeatType, m.PlanStatus, nullTime(m.SnoozeUntil),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kokoroErrors.NotFound("memory " + m.ID)
	}
	s.deindexMemory(m.ID)
	s.indexMemory(m)
	return nil
}

func (s *Store) GetMemory(id string) (*MemoryEntry, error) {
	row := s.db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kokoroErrors.NotFound("memory " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func (s *Store) DeleteMemory(id string) error {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kokoroErrors.NotFound("memory " + id)
	}
	s.deindexMemory(id)
	return nil
}

func (s *Store) ListMemoriesByCategory(category MemoryCategory, limit int) ([]*MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+memoryColumns+` FROM memories WHERE category = ? ORDER BY last_accessed DESC LIMIT ?`,
		category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return collectMemories(rows)
}

func (s *Store) CountMemories() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// DeleteMemories removes a batch of entries by id.
func (s *Store) DeleteMemories(ids []string) error {
	for _, id := range ids {
		if err := s.DeleteMemory(id); err != nil && !errors.Is(err, kokoroErrors.ErrNotFound) {
			return err
		}
	}
	return nil
}

// TouchMemories bulk-updates access tracking for returned recall results.
func (s *Store) TouchMemories(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Exec(
		`UPDATE memories SET last_accessed = ?, access_count = access_count + 1 WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

// EvictionCandidates returns ids of the weakest entries, ordered by
// (confidence ASC, last_accessed ASC).
func (s *Store) EvictionCandidates(limit int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM memories ORDER BY confidence ASC, last_accessed ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("eviction candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Retrieval tiers ---

// SearchMemoriesFTS runs an FTS5 match (caller builds the prefix-OR expression)
// ordered by bm25 rank, lower is better. Returns nil when FTS is unavailable.
func (s *Store) SearchMemoriesFTS(match string, limit int) ([]*MemoryEntry, error) {
	if !s.ftsAvailable || strings.TrimSpace(match) == "" {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT `+prefixedMemoryColumns("m")+`
		 FROM memory_fts f JOIN memories m ON m.id = f.memory_id
		 WHERE memory_fts MATCH ?
		 ORDER BY bm25(memory_fts) LIMIT ?`,
		match, limit,
	)
	if err != nil {
		// Malformed match expressions degrade silently to the lower tiers.
		return nil, nil
	}
	return collectMemories(rows)
}

// SearchMemoriesLike runs a substring LIKE over {key,value} for one keyword.
func (s *Store) SearchMemoriesLike(keyword string, limit int) ([]*MemoryEntry, error) {
	pattern := "%" + escapeLike(keyword) + "%"
	rows, err := s.db.Query(
		`SELECT `+memoryColumns+` FROM memories
		 WHERE key LIKE ? ESCAPE '\' OR value LIKE ? ESCAPE '\'
		 ORDER BY last_accessed DESC LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("like search: %w", err)
	}
	return collectMemories(rows)
}

// RecentMemories returns the most recently accessed entries; the normalized
// substring tier scans these application-side.
func (s *Store) RecentMemories(limit int) ([]*MemoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+memoryColumns+` FROM memories ORDER BY last_accessed DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	return collectMemories(rows)
}

// AllMemories returns every long-term entry in creation order, for bulk export.
func (s *Store) AllMemories() ([]*MemoryEntry, error) {
	rows, err := s.db.Query(`SELECT ` + memoryColumns + ` FROM memories ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("all memories: %w", err)
	}
	return collectMemories(rows)
}

func collectMemories(rows *sql.Rows) ([]*MemoryEntry, error) {
	defer rows.Close()
	var out []*MemoryEntry
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) indexMemory(m *MemoryEntry) {
	if !s.ftsAvailable {
		return
	}
	// Index drift is tolerated: recall falls through to the LIKE tiers.
	if _, err := s.db.Exec(
		`INSERT INTO memory_fts (memory_id, key, value) VALUES (?, ?, ?)`,
		m.ID, m.Key, m.Value,
	); err != nil {
		slog.Warn("FTS index write failed", "memory", m.ID, "error", err)
	}
}

func (s *Store) deindexMemory(id string) {
	if !s.ftsAvailable {
		return
	}
	_, _ = s.db.Exec(`DELETE FROM memory_fts WHERE memory_id = ?`, id)
}

func prefixedMemoryColumns(alias string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
