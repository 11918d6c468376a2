package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paolomoz/nova/internal/content"
)

var _ content.Store = (*Store)(nil)

// ListPages returns pages at or below prefix, ordered by path.
func (s *Store) ListPages(ctx context.Context, projectID, prefix string) ([]content.PageSummary, error) {
	query := `
SELECT path, title, updated_at FROM pages
WHERE project_id=$1
ORDER BY path`
	args := []interface{}{projectID}
	if prefix != "" && prefix != "/" {
		query = `
SELECT path, title, updated_at FROM pages
WHERE project_id=$1 AND (path=$2 OR path LIKE $3)
ORDER BY path`
		args = append(args, prefix, likePrefix(prefix)+"/%")
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	out := []content.PageSummary{}
	for rows.Next() {
		var p content.PageSummary
		if err := rows.Scan(&p.Path, &p.Title, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAllPages returns every page of a project with its content.
func (s *Store) ListAllPages(ctx context.Context, projectID string) ([]content.Page, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT project_id, path, title, content, updated_by, updated_at FROM pages
WHERE project_id=$1
ORDER BY path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list all pages: %w", err)
	}
	defer rows.Close()
	var out []content.Page
	for rows.Next() {
		var p content.Page
		if err := rows.Scan(&p.ProjectID, &p.Path, &p.Title, &p.Content, &p.UpdatedBy, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProjects returns the ids of every project that owns at least one page.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT project_id FROM pages ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) GetPage(ctx context.Context, projectID, path string) (content.Page, error) {
	var p content.Page
	err := s.DB.QueryRowContext(ctx, `
SELECT project_id, path, title, content, updated_by, updated_at FROM pages
WHERE project_id=$1 AND path=$2
`, projectID, path).Scan(&p.ProjectID, &p.Path, &p.Title, &p.Content, &p.UpdatedBy, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, content.ErrNotFound
	}
	return p, err
}

// PutPage upserts a page. created is true when the row did not exist before.
func (s *Store) PutPage(ctx context.Context, page content.Page) (bool, error) {
	var created bool
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO pages (project_id, path, title, content, updated_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (project_id, path) DO UPDATE SET
  title      = EXCLUDED.title,
  content    = EXCLUDED.content,
  updated_by = EXCLUDED.updated_by,
  updated_at = NOW()
RETURNING (xmax = 0) AS created
`, page.ProjectID, page.Path, page.Title, page.Content, page.UpdatedBy).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("put page: %w", err)
	}
	return created, nil
}

func (s *Store) DeletePage(ctx context.Context, projectID, path string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM pages WHERE project_id=$1 AND path=$2`, projectID, path)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return content.ErrNotFound
	}
	return nil
}

// MovePage renames source to destination, refusing to overwrite an existing page.
func (s *Store) MovePage(ctx context.Context, projectID, source, destination string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pages WHERE project_id=$1 AND path=$2)`, projectID, destination).Scan(&exists); err != nil {
		return fmt.Errorf("check destination: %w", err)
	}
	if exists {
		return content.ErrConflict
	}
	res, err := tx.ExecContext(ctx, `UPDATE pages SET path=$3, updated_at=NOW() WHERE project_id=$1 AND path=$2`, projectID, source, destination)
	if err != nil {
		return fmt.Errorf("move page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return content.ErrNotFound
	}
	return tx.Commit()
}

func likePrefix(p string) string {
	r := make([]rune, 0, len(p))
	for _, c := range p {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
