package content

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paolomoz/nova/internal/helpers"
)

// Memory is an in-process implementation of every content collaborator.
// It backs local development and tests.
type Memory struct {
	mu      sync.RWMutex
	pages   map[string]map[string]Page // project -> path -> page
	brands  map[string]BrandProfile
	blocks  map[string][]Block
	metrics map[string]map[string]PageMetrics
	now     func() time.Time
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		pages:   make(map[string]map[string]Page),
		brands:  make(map[string]BrandProfile),
		blocks:  make(map[string][]Block),
		metrics: make(map[string]map[string]PageMetrics),
		now:     time.Now,
	}
}

func (m *Memory) ListPages(ctx context.Context, projectID, prefix string) ([]PageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PageSummary
	for p, page := range m.pages[projectID] {
		if !helpers.IsUnder(p, prefix) {
			continue
		}
		out = append(out, PageSummary{Path: p, Title: page.Title, UpdatedAt: page.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ListProjects returns the projects that hold at least one page.
func (m *Memory) ListProjects(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pages))
	for id, pages := range m.pages {
		if len(pages) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListAllPages returns every page of a project, ordered by path.
func (m *Memory) ListAllPages(ctx context.Context, projectID string) ([]Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Page, 0, len(m.pages[projectID]))
	for _, page := range m.pages[projectID] {
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) GetPage(ctx context.Context, projectID, path string) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[projectID][path]
	if !ok {
		return Page{}, fmt.Errorf("page %s: %w", path, ErrNotFound)
	}
	return page, nil
}

func (m *Memory) PutPage(ctx context.Context, page Page) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project := m.pages[page.ProjectID]
	if project == nil {
		project = make(map[string]Page)
		m.pages[page.ProjectID] = project
	}
	_, existed := project[page.Path]
	page.UpdatedAt = m.now().UTC()
	project[page.Path] = page
	return !existed, nil
}

func (m *Memory) DeletePage(ctx context.Context, projectID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[projectID][path]; !ok {
		return fmt.Errorf("page %s: %w", path, ErrNotFound)
	}
	delete(m.pages[projectID], path)
	return nil
}

func (m *Memory) MovePage(ctx context.Context, projectID, source, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project := m.pages[projectID]
	page, ok := project[source]
	if !ok {
		return fmt.Errorf("page %s: %w", source, ErrNotFound)
	}
	if _, exists := project[destination]; exists {
		return fmt.Errorf("page %s: %w", destination, ErrConflict)
	}
	delete(project, source)
	page.Path = destination
	page.UpdatedAt = m.now().UTC()
	project[destination] = page
	return nil
}

// SetBrandProfile seeds a profile.
func (m *Memory) SetBrandProfile(profile BrandProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brands[profile.ProjectID] = profile
}

func (m *Memory) GetBrandProfile(ctx context.Context, projectID string) (BrandProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.brands[projectID]
	if !ok {
		return BrandProfile{}, fmt.Errorf("brand profile for %s: %w", projectID, ErrNotFound)
	}
	return profile, nil
}

// AddBlock seeds the block library.
func (m *Memory) AddBlock(projectID string, block Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[projectID] = append(m.blocks[projectID], block)
}

func (m *Memory) ListBlocks(ctx context.Context, projectID, category string) ([]Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Block
	for _, b := range m.blocks[projectID] {
		if category != "" && b.Category != category {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *Memory) GetBlock(ctx context.Context, projectID, name string) (Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.blocks[projectID] {
		if b.Name == name {
			return b, nil
		}
	}
	return Block{}, fmt.Errorf("block %s: %w", name, ErrNotFound)
}

// SetPageMetrics seeds telemetry for a page.
func (m *Memory) SetPageMetrics(projectID string, metrics PageMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics[projectID] == nil {
		m.metrics[projectID] = make(map[string]PageMetrics)
	}
	m.metrics[projectID][metrics.Path] = metrics
}

func (m *Memory) GetPageMetrics(ctx context.Context, projectID, path string) (PageMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics, ok := m.metrics[projectID][path]
	if !ok {
		return PageMetrics{}, fmt.Errorf("metrics for %s: %w", path, ErrNotFound)
	}
	return metrics, nil
}
