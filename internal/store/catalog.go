package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/paolomoz/nova/internal/content"
)

var (
	_ content.BrandStore     = (*Store)(nil)
	_ content.BlockStore     = (*Store)(nil)
	_ content.TelemetryStore = (*Store)(nil)
)

func (s *Store) GetBrandProfile(ctx context.Context, projectID string) (content.BrandProfile, error) {
	bp := content.BrandProfile{ProjectID: projectID}
	var tone, guidelines pq.StringArray
	var colors, typography []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT name, voice, tone, colors, typography, guidelines, updated_at
FROM brand_profiles
WHERE project_id=$1
`, projectID).Scan(&bp.Name, &bp.Voice, &tone, &colors, &typography, &guidelines, &bp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return bp, content.ErrNotFound
	}
	if err != nil {
		return bp, err
	}
	bp.Tone, bp.Guidelines = []string(tone), []string(guidelines)
	if err := unmarshalMap(colors, &bp.Colors); err != nil {
		return bp, fmt.Errorf("decode colors: %w", err)
	}
	if err := unmarshalMap(typography, &bp.Typography); err != nil {
		return bp, fmt.Errorf("decode typography: %w", err)
	}
	return bp, nil
}

func (s *Store) ListBlocks(ctx context.Context, projectID, category string) ([]content.Block, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT name, category, description, markup, variants
FROM blocks
WHERE project_id=$1 AND ($2::text = '' OR category=$2)
ORDER BY name
`, projectID, category)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()
	out := []content.Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBlock(ctx context.Context, projectID, name string) (content.Block, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT name, category, description, markup, variants
FROM blocks
WHERE project_id=$1 AND name=$2
`, projectID, name)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return b, content.ErrNotFound
	}
	return b, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(r scanner) (content.Block, error) {
	var b content.Block
	var variants pq.StringArray
	if err := r.Scan(&b.Name, &b.Category, &b.Description, &b.Markup, &variants); err != nil {
		return b, err
	}
	b.Variants = []string(variants)
	return b, nil
}

// GetPageMetrics returns the most recent aggregation period for a page.
func (s *Store) GetPageMetrics(ctx context.Context, projectID, path string) (content.PageMetrics, error) {
	m := content.PageMetrics{Path: path}
	err := s.DB.QueryRowContext(ctx, `
SELECT views, unique_visitors, avg_time_on_page, bounce_rate, lcp_ms, cls, period_start, period_end
FROM page_metrics
WHERE project_id=$1 AND path=$2
ORDER BY period_end DESC
LIMIT 1
`, projectID, path).Scan(&m.Views, &m.UniqueVisitors, &m.AvgTimeOnPage, &m.BounceRate, &m.LCPMillis, &m.CLS, &m.PeriodStart, &m.PeriodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return m, content.ErrNotFound
	}
	return m, err
}

func unmarshalMap(b []byte, dst *map[string]string) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
