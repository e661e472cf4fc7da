package store

import (
	"database/sql"
	"errors"
	"fmt"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
)

// SaveContract upserts the durable projection of a contract.
func (s *Store) SaveContract(row *ContractRow) error {
	now := nowUTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO contracts (execution_id, session_id, action_type, status, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		row.ExecutionID, row.SessionID, row.ActionType, row.Status, row.Data, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save contract: %w", err)
	}
	return nil
}

func (s *Store) GetContract(executionID string) (*ContractRow, error) {
	var row ContractRow
	err := s.db.QueryRow(
		`SELECT execution_id, session_id, action_type, status, data, created_at, updated_at
		 FROM contracts WHERE execution_id = ?`, executionID,
	).Scan(&row.ExecutionID, &row.SessionID, &row.ActionType, &row.Status, &row.Data, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kokoroErrors.NotFound("contract " + executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return &row, nil
}

// ListContractsBySession returns a session's contracts ordered by creation.
func (s *Store) ListContractsBySession(sessionID string) ([]*ContractRow, error) {
	rows, err := s.db.Query(
		`SELECT execution_id, session_id, action_type, status, data, created_at, updated_at
		 FROM contracts WHERE session_id = ? ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var out []*ContractRow
	for rows.Next() {
		var row ContractRow
		if err := rows.Scan(&row.ExecutionID, &row.SessionID, &row.ActionType, &row.Status, &row.Data, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}
