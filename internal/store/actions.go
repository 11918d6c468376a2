package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ActionRecord is one append-only audit entry.
type ActionRecord struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	ProjectID   string                 `json:"projectId"`
	ActionType  string                 `json:"actionType"`
	Description string                 `json:"description"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// RecordAction inserts rec and returns it with the database-assigned id and timestamp.
func (s *Store) RecordAction(ctx context.Context, rec ActionRecord) (ActionRecord, error) {
	input, err := json.Marshal(orEmpty(rec.Input))
	if err != nil {
		return ActionRecord{}, fmt.Errorf("marshal input: %w", err)
	}
	output, err := json.Marshal(orEmpty(rec.Output))
	if err != nil {
		return ActionRecord{}, fmt.Errorf("marshal output: %w", err)
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO action_history (user_id, project_id, action_type, description, input, output, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
RETURNING id, created_at
`, rec.UserID, rec.ProjectID, rec.ActionType, rec.Description, input, output)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return ActionRecord{}, fmt.Errorf("insert action: %w", err)
	}
	metricsOnce.Do(initStoreMetrics)
	if actionsRecorded != nil {
		actionsRecorded.Add(ctx, 1)
	}
	return rec, nil
}

// ListActions returns the newest actions for a user within a project.
func (s *Store) ListActions(ctx context.Context, userID, projectID string, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, project_id, action_type, description, input, output, created_at
FROM action_history
WHERE user_id=$1 AND project_id=$2
ORDER BY created_at DESC
LIMIT $3
`, userID, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var input, output []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ProjectID, &rec.ActionType, &rec.Description, &input, &output, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &rec.Input)
		}
		if len(output) > 0 {
			_ = json.Unmarshal(output, &rec.Output)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
