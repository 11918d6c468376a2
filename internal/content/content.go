package content

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a page, block or profile does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a move would clobber an existing page.
	ErrConflict = errors.New("destination already exists")
)

// Page is a single document in a project's repository, addressed by path.
type Page struct {
	ProjectID string    `json:"projectId"`
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PageSummary is the listing view of a page.
type PageSummary struct {
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the content repository boundary used by the page tools.
type Store interface {
	ListPages(ctx context.Context, projectID, prefix string) ([]PageSummary, error)
	GetPage(ctx context.Context, projectID, path string) (Page, error)
	// PutPage creates or overwrites a page and reports whether it was new.
	PutPage(ctx context.Context, page Page) (bool, error)
	DeletePage(ctx context.Context, projectID, path string) error
	MovePage(ctx context.Context, projectID, source, destination string) error
}

// BrandProfile describes a project's voice and visual identity.
type BrandProfile struct {
	ProjectID  string            `json:"projectId"`
	Name       string            `json:"name"`
	Voice      string            `json:"voice,omitempty"`
	Tone       []string          `json:"tone,omitempty"`
	Colors     map[string]string `json:"colors,omitempty"`
	Typography map[string]string `json:"typography,omitempty"`
	Guidelines []string          `json:"guidelines,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// BrandStore reads brand profiles.
type BrandStore interface {
	GetBrandProfile(ctx context.Context, projectID string) (BrandProfile, error)
}

// Block is a reusable component from the project's block library.
type Block struct {
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Markup      string   `json:"markup,omitempty"`
	Variants    []string `json:"variants,omitempty"`
}

// BlockStore reads the block library.
type BlockStore interface {
	ListBlocks(ctx context.Context, projectID, category string) ([]Block, error)
	GetBlock(ctx context.Context, projectID, name string) (Block, error)
}

// PageMetrics aggregates telemetry for a single page.
type PageMetrics struct {
	Path           string    `json:"path"`
	Views          int64     `json:"views"`
	UniqueVisitors int64     `json:"uniqueVisitors"`
	AvgTimeOnPage  float64   `json:"avgTimeOnPageSeconds"`
	BounceRate     float64   `json:"bounceRate"`
	LCPMillis      float64   `json:"lcpMs,omitempty"`
	CLS            float64   `json:"cls,omitempty"`
	PeriodStart    time.Time `json:"periodStart"`
	PeriodEnd      time.Time `json:"periodEnd"`
}

// TelemetryStore reads aggregated page metrics.
type TelemetryStore interface {
	GetPageMetrics(ctx context.Context, projectID, path string) (PageMetrics, error)
}
