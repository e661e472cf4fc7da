package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store is the durable relational layer: sessions, messages, working memory,
// long-term memory (with an FTS5 index), contracts, cognitive objects, settings
// and per-session graph state blobs.
type Store struct {
	db           *sql.DB
	ftsAvailable bool
}

// Open opens (and creates if needed) the database at path, enables WAL and
// foreign keys, and migrates the schema.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	// _time_format makes the driver store time.Time in a form SQLite's own
	// datetime() can parse, which the due-plan query relies on.
	db, err := sql.Open("sqlite", "file:"+path+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The driver serializes writes; a single connection keeps row writes
	// totally ordered and sidesteps SQLITE_BUSY between pooled conns.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// FTSAvailable reports whether the FTS5 index was created. When false, memory
// recall degrades to the LIKE and substring tiers.
func (s *Store) FTSAvailable() bool {
	return s.ftsAvailable
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS working_memory (
			session_id        TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
			current_topic     TEXT NOT NULL DEFAULT '',
			context_variables TEXT NOT NULL DEFAULT '{}',
			turn_count        INTEGER NOT NULL DEFAULT 0,
			last_emotion      TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id                      TEXT PRIMARY KEY,
			session_id              TEXT,
			category                TEXT NOT NULL,
			key                     TEXT NOT NULL,
			value                   TEXT NOT NULL,
			confidence              REAL NOT NULL DEFAULT 0.5,
			source                  TEXT NOT NULL DEFAULT 'system',
			created_at              TIMESTAMP NOT NULL,
			last_accessed           TIMESTAMP NOT NULL,
			access_count            INTEGER NOT NULL DEFAULT 0,
			target_time             TIMESTAMP,
			reminder_offset_minutes INTEGER NOT NULL DEFAULT 0,
			repeat_type             TEXT NOT NULL DEFAULT 'none',
			plan_status             TEXT NOT NULL DEFAULT '',
			snooze_until            TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_plan_due ON memories(category, plan_status, target_time)`,
		`CREATE TABLE IF NOT EXISTS contracts (
			execution_id TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL DEFAULT '',
			action_type  TEXT NOT NULL,
			status       TEXT NOT NULL,
			data         TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_session ON contracts(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS cognitive_objects (
			co_id                TEXT PRIMARY KEY,
			title                TEXT NOT NULL,
			description          TEXT NOT NULL DEFAULT '',
			semantic_type        TEXT NOT NULL DEFAULT '',
			domain_tag           TEXT NOT NULL DEFAULT '',
			intent_category      TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL,
			transitions          TEXT NOT NULL DEFAULT '[]',
			external_references  TEXT NOT NULL DEFAULT '[]',
			related_co_ids       TEXT NOT NULL DEFAULT '[]',
			linked_memory_ids    TEXT NOT NULL DEFAULT '[]',
			linked_execution_ids TEXT NOT NULL DEFAULT '[]',
			created_by           TEXT NOT NULL DEFAULT '',
			conversation_id      TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMP NOT NULL,
			updated_at           TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cognitive_object_contracts (
			co_id        TEXT NOT NULL REFERENCES cognitive_objects(co_id) ON DELETE CASCADE,
			execution_id TEXT NOT NULL,
			PRIMARY KEY (co_id, execution_id)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS graph_states (
			session_id TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// The FTS index mirrors {key, value} of every memory row. Builds of the
	// driver without the fts5 extension fall back to LIKE-only retrieval.
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts
		USING fts5(memory_id UNINDEXED, key, value)`)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "fts5") || strings.Contains(strings.ToLower(err.Error()), "no such module") {
			slog.Warn("FTS5 unavailable, memory recall degrades to LIKE tiers", "error", err)
			s.ftsAvailable = false
			return nil
		}
		return fmt.Errorf("create fts index: %w", err)
	}
	s.ftsAvailable = true
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
