package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"
	"github.com/blevesearch/bleve/search/query"
	"github.com/paolomoz/nova/internal/content"
	"github.com/paolomoz/nova/internal/helpers"
)

const (
	snippetRunes = 200
	// reindexPage bounds how many stale documents one reindex pass removes per query.
	reindexPage = 1000
)

// Hit is a single search result.
type Hit struct {
	Path    string  `json:"path"`
	Title   string  `json:"title,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// Index is a BM25 full-text index over page content, partitioned by project.
type Index struct {
	idx bleve.Index
}

func newMapping() mapping.IndexMapping {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name
	kw.Store = true

	text := bleve.NewTextFieldMapping()
	text.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("project_id", kw)
	doc.AddFieldMappingsAt("path", kw)
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("body", text)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// NewMemory returns an index held entirely in memory.
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Open opens the on-disk index at path, creating it when missing. An empty
// path yields an in-memory index.
func Open(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return NewMemory()
	}
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		return &Index{idx: idx}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("create index %s: %w", path, err)
	}
	return &Index{idx: idx}, nil
}

func docID(projectID, path string) string {
	return projectID + ":" + path
}

func document(page content.Page) map[string]interface{} {
	return map[string]interface{}{
		"project_id": page.ProjectID,
		"path":       page.Path,
		"title":      page.Title,
		"body":       helpers.SanitizeHTMLStrict(page.Content),
	}
}

// IndexPage adds or replaces the page's document.
func (i *Index) IndexPage(ctx context.Context, page content.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return i.idx.Index(docID(page.ProjectID, page.Path), document(page))
}

// RemovePage drops the page's document. Missing documents are not an error.
func (i *Index) RemovePage(ctx context.Context, projectID, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return i.idx.Delete(docID(projectID, path))
}

func projectQuery(projectID string) *query.TermQuery {
	q := bleve.NewTermQuery(projectID)
	q.SetField("project_id")
	return q
}

func fieldMatch(text, field string) *query.MatchQuery {
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	return q
}

// Search runs a match query over title and body within a project.
func (i *Index) Search(ctx context.Context, projectID, text string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty search query")
	}
	if limit <= 0 {
		limit = 10
	}
	match := bleve.NewDisjunctionQuery(fieldMatch(text, "title"), fieldMatch(text, "body"))
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(projectQuery(projectID), match), limit, 0, false)
	req.Fields = []string{"path", "title", "body"}
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Score: h.Score}
		hit.Path, _ = h.Fields["path"].(string)
		hit.Title, _ = h.Fields["title"].(string)
		if body, ok := h.Fields["body"].(string); ok {
			hit.Snippet = helpers.TruncateRunes(body, snippetRunes)
		}
		out = append(out, hit)
	}
	return out, nil
}

// Reindex replaces every document of a project with pages.
func (i *Index) Reindex(ctx context.Context, projectID string, pages []content.Page) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequestOptions(projectQuery(projectID), reindexPage, 0, false)
		res, err := i.idx.Search(req)
		if err != nil {
			return fmt.Errorf("list project documents: %w", err)
		}
		if len(res.Hits) == 0 {
			break
		}
		batch := i.idx.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := i.idx.Batch(batch); err != nil {
			return fmt.Errorf("delete stale documents: %w", err)
		}
	}
	batch := i.idx.NewBatch()
	for _, page := range pages {
		if err := batch.Index(docID(projectID, page.Path), document(page)); err != nil {
			return fmt.Errorf("batch index %s: %w", page.Path, err)
		}
	}
	if err := i.idx.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

// Close releases the underlying index.
func (i *Index) Close() error {
	return i.idx.Close()
}
