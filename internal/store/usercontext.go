package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// UserContext is the learned state kept per (user, project).
type UserContext struct {
	UserID         string         `json:"userId"`
	ProjectID      string         `json:"projectId"`
	ToolFrequency  map[string]int `json:"toolFrequency"`
	ExpertiseLevel string         `json:"expertiseLevel"`
	ExpertiseRank  int            `json:"-"`
	ActivePaths    []string       `json:"activePaths"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// GetUserContext loads the stored context. ok is false when nothing has been accumulated yet.
func (s *Store) GetUserContext(ctx context.Context, userID, projectID string) (UserContext, bool, error) {
	uc := UserContext{UserID: userID, ProjectID: projectID}
	var freq []byte
	var paths pq.StringArray
	err := s.DB.QueryRowContext(ctx, `
SELECT tool_frequency, expertise_level, expertise_rank, active_paths, updated_at
FROM user_context
WHERE user_id=$1 AND project_id=$2
`, userID, projectID).Scan(&freq, &uc.ExpertiseLevel, &uc.ExpertiseRank, &paths, &uc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return uc, false, nil
	}
	if err != nil {
		return uc, false, err
	}
	uc.ToolFrequency = map[string]int{}
	if len(freq) > 0 {
		if err := json.Unmarshal(freq, &uc.ToolFrequency); err != nil {
			return uc, false, fmt.Errorf("decode tool_frequency: %w", err)
		}
	}
	uc.ActivePaths = []string(paths)
	return uc, true, nil
}

// IncrementToolFrequency adds counts to the stored per-tool counters in one statement.
func (s *Store) IncrementToolFrequency(ctx context.Context, userID, projectID string, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}
	delta, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO user_context (user_id, project_id, tool_frequency, created_at, updated_at)
VALUES ($1,$2,$3::jsonb,NOW(),NOW())
ON CONFLICT (user_id, project_id) DO UPDATE SET
  tool_frequency = (
    SELECT COALESCE(jsonb_object_agg(k, COALESCE((user_context.tool_frequency->>k)::int, 0) + COALESCE((EXCLUDED.tool_frequency->>k)::int, 0)), '{}'::jsonb)
    FROM jsonb_object_keys(user_context.tool_frequency || EXCLUDED.tool_frequency) AS k
  ),
  updated_at = NOW();
`, userID, projectID, delta)
	if err != nil {
		return fmt.Errorf("increment tool frequency: %w", err)
	}
	countUpsert(ctx)
	return nil
}

// RaiseExpertise stores level only when rank is above the stored rank.
// It reports whether the stored level changed.
func (s *Store) RaiseExpertise(ctx context.Context, userID, projectID, level string, rank int) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO user_context (user_id, project_id, expertise_level, expertise_rank, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW())
ON CONFLICT (user_id, project_id) DO UPDATE SET
  expertise_level = EXCLUDED.expertise_level,
  expertise_rank  = EXCLUDED.expertise_rank,
  updated_at      = NOW()
WHERE user_context.expertise_rank < EXCLUDED.expertise_rank;
`, userID, projectID, level, rank)
	if err != nil {
		return false, fmt.Errorf("raise expertise: %w", err)
	}
	countUpsert(ctx)
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MergeActivePaths rewrites the stored active paths with merge(stored) while
// holding the row lock.
func (s *Store) MergeActivePaths(ctx context.Context, userID, projectID string, merge func(stored []string) []string) ([]string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO user_context (user_id, project_id, created_at, updated_at)
VALUES ($1,$2,NOW(),NOW())
ON CONFLICT (user_id, project_id) DO NOTHING;
`, userID, projectID); err != nil {
		return nil, fmt.Errorf("ensure user context: %w", err)
	}
	var stored pq.StringArray
	if err := tx.QueryRowContext(ctx, `
SELECT active_paths FROM user_context
WHERE user_id=$1 AND project_id=$2
FOR UPDATE
`, userID, projectID).Scan(&stored); err != nil {
		return nil, fmt.Errorf("lock user context: %w", err)
	}
	merged := merge([]string(stored))
	if _, err := tx.ExecContext(ctx, `
UPDATE user_context SET active_paths=$3, updated_at=NOW()
WHERE user_id=$1 AND project_id=$2
`, userID, projectID, pq.Array(merged)); err != nil {
		return nil, fmt.Errorf("update active paths: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	countUpsert(ctx)
	return merged, nil
}

func countUpsert(ctx context.Context) {
	metricsOnce.Do(initStoreMetrics)
	if contextUpserts != nil {
		contextUpserts.Add(ctx, 1)
	}
}
