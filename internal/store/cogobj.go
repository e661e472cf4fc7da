package store

import (
	"database/sql"
	"errors"
	"fmt"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
)

const coColumns = `co_id, title, description, semantic_type, domain_tag, intent_category, status,
	transitions, external_references, related_co_ids, linked_memory_ids, linked_execution_ids,
	created_by, conversation_id, created_at, updated_at`

func scanCO(scan func(...any) error) (*CognitiveObjectRow, error) {
	var row CognitiveObjectRow
	err := scan(
		&row.COID, &row.Title, &row.Description, &row.SemanticType, &row.DomainTag, &row.IntentCategory, &row.Status,
		&row.Transitions, &row.ExternalRefs, &row.RelatedCOIDs, &row.LinkedMemories, &row.LinkedExecs,
		&row.CreatedBy, &row.ConversationID, &row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SaveCognitiveObject upserts a cognitive object row.
func (s *Store) SaveCognitiveObject(row *CognitiveObjectRow) error {
	now := nowUTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO cognitive_objects (`+coColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(co_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			semantic_type = excluded.semantic_type,
			domain_tag = excluded.domain_tag,
			intent_category = excluded.intent_category,
			status = excluded.status,
			transitions = excluded.transitions,
			external_references = excluded.external_references,
			related_co_ids = excluded.related_co_ids,
			linked_memory_ids = excluded.linked_memory_ids,
			linked_execution_ids = excluded.linked_execution_ids,
			updated_at = excluded.updated_at`,
		row.COID, row.Title, row.Description, row.SemanticType, row.DomainTag, row.IntentCategory, row.Status,
		row.Transitions, row.ExternalRefs, row.RelatedCOIDs, row.LinkedMemories, row.LinkedExecs,
		row.CreatedBy, row.ConversationID, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save cognitive object: %w", err)
	}
	return nil
}

func (s *Store) GetCognitiveObject(coID string) (*CognitiveObjectRow, error) {
	row := s.db.QueryRow(`SELECT `+coColumns+` FROM cognitive_objects WHERE co_id = ?`, coID)
	out, err := scanCO(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kokoroErrors.NotFound("cognitive object " + coID)
	}
	if err != nil {
		return nil, fmt.Errorf("get cognitive object: %w", err)
	}
	return out, nil
}

// ListCognitiveObjects returns rows filtered by status. An empty status lists
// everything; excludeArchived drops archived rows (the listActive view).
func (s *Store) ListCognitiveObjects(status string, excludeArchived bool) ([]*CognitiveObjectRow, error) {
	query := `SELECT ` + coColumns + ` FROM cognitive_objects`
	var args []any
	switch {
	case status != "":
		query += ` WHERE status = ?`
		args = append(args, status)
	case excludeArchived:
		query += ` WHERE status != 'archived'`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cognitive objects: %w", err)
	}
	return collectCOs(rows)
}

// SearchCognitiveObjects matches a substring over title and description.
func (s *Store) SearchCognitiveObjects(substring string) ([]*CognitiveObjectRow, error) {
	pattern := "%" + escapeLike(substring) + "%"
	rows, err := s.db.Query(
		`SELECT `+coColumns+` FROM cognitive_objects
		 WHERE title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		 ORDER BY updated_at DESC`,
		pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("search cognitive objects: %w", err)
	}
	return collectCOs(rows)
}

// LinkCognitiveObjectContract records the many-to-many CO↔contract link.
func (s *Store) LinkCognitiveObjectContract(coID, executionID string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO cognitive_object_contracts (co_id, execution_id) VALUES (?, ?)`,
		coID, executionID,
	)
	if err != nil {
		return fmt.Errorf("link contract: %w", err)
	}
	return nil
}

func collectCOs(rows *sql.Rows) ([]*CognitiveObjectRow, error) {
	defer rows.Close()
	var out []*CognitiveObjectRow
	for rows.Next() {
		row, err := scanCO(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
