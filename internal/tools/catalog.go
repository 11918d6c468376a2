package tools

import (
	"context"
	"errors"
	"fmt"
)

const maxSearchResults = 50

func registerCatalogTools(r *Registry) {
	r.MustRegister(Definition{
		Name:        "search_pages",
		Description: "Full-text search over page titles and content.",
		InputSchema: Object(map[string]Property{
			"query": {Type: "string", Description: "Search terms"},
			"limit": {Type: "integer", Description: "Maximum results (default 10, max 50)"},
		}, "query"),
	}, searchPages)
	r.MustRegister(Definition{
		Name:        "get_brand_profile",
		Description: "Get the project's brand voice, tone, colours and guidelines.",
		InputSchema: Object(nil),
	}, getBrandProfile)
	r.MustRegister(Definition{
		Name:        "list_blocks",
		Description: "List the reusable blocks in the project's block library.",
		InputSchema: Object(map[string]Property{
			"category": {Type: "string", Description: "Optional category filter"},
		}),
	}, listBlocks)
	r.MustRegister(Definition{
		Name:        "get_block",
		Description: "Get the markup and variants of a block.",
		InputSchema: Object(map[string]Property{
			"name": {Type: "string", Description: "Block name"},
		}, "name"),
	}, getBlock)
	r.MustRegister(Definition{
		Name:        "get_page_metrics",
		Description: "Get traffic and performance metrics for a page.",
		InputSchema: Object(map[string]Property{"path": pathProp}, "path"),
	}, getPageMetrics)
}

func searchPages(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Search == nil {
		return "", errors.New("search index is not configured")
	}
	q, err := stringArg(input, "query")
	if err != nil {
		return "", err
	}
	hits, err := ec.Search.Search(ctx, ec.ProjectID, q, intArg(input, "limit", 10, maxSearchResults))
	if err != nil {
		return "", err
	}
	return toJSON(map[string]any{"query": q, "count": len(hits), "results": hits})
}

func getBrandProfile(ctx context.Context, _ map[string]any, ec *ExecContext) (string, error) {
	if ec.Brand == nil {
		return "", errors.New("brand store is not configured")
	}
	bp, err := ec.Brand.GetBrandProfile(ctx, ec.ProjectID)
	if err != nil {
		return "", fmt.Errorf("brand profile: %w", err)
	}
	return toJSON(bp)
}

func listBlocks(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Blocks == nil {
		return "", errors.New("block library is not configured")
	}
	blocks, err := ec.Blocks.ListBlocks(ctx, ec.ProjectID, optString(input, "category"))
	if err != nil {
		return "", err
	}
	type summary struct {
		Name        string `json:"name"`
		Category    string `json:"category,omitempty"`
		Description string `json:"description,omitempty"`
	}
	out := make([]summary, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, summary{Name: b.Name, Category: b.Category, Description: b.Description})
	}
	return toJSON(map[string]any{"count": len(out), "blocks": out})
}

func getBlock(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Blocks == nil {
		return "", errors.New("block library is not configured")
	}
	name, err := stringArg(input, "name")
	if err != nil {
		return "", err
	}
	b, err := ec.Blocks.GetBlock(ctx, ec.ProjectID, name)
	if err != nil {
		return "", fmt.Errorf("block %s: %w", name, err)
	}
	return toJSON(b)
}

func getPageMetrics(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Telemetry == nil {
		return "", errors.New("telemetry store is not configured")
	}
	p, err := pathArg(input, "path")
	if err != nil {
		return "", err
	}
	m, err := ec.Telemetry.GetPageMetrics(ctx, ec.ProjectID, p)
	if err != nil {
		return "", fmt.Errorf("metrics %s: %w", p, err)
	}
	return toJSON(m)
}
