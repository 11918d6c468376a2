package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paolomoz/nova/internal/content"
	"github.com/paolomoz/nova/internal/helpers"
	"github.com/paolomoz/nova/internal/queue/streams"
	"github.com/paolomoz/nova/internal/runtime"
)

const importTool = "import_url"

func registerImportTool(r *Registry) {
	r.MustRegister(Definition{
		Name:        importTool,
		Description: "Fetch an external web page, extract its main content and store it as a page.",
		InputSchema: Object(map[string]Property{
			"url":  {Type: "string", Description: "Absolute http(s) URL to import"},
			"path": pathProp,
		}, "url", "path"),
		Mutating: true,
	}, importURL)
}

func importURL(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	if ec.Fetcher == nil {
		return "", errors.New("fetcher is not configured")
	}
	raw, err := stringArg(input, "url")
	if err != nil {
		return "", err
	}
	target, err := helpers.CanonicalURL(raw)
	if err != nil {
		return "", fmt.Errorf("url %q: %w", raw, err)
	}
	if !helpers.HostAllowed(target, ec.Policy.AllowHosts(importTool)) {
		runtime.RecordDenial(ctx, importTool, "host")
		return "", fmt.Errorf("host of %s is not allowed", target)
	}
	if err := helpers.CheckPublicHost(ctx, target, ec.Resolve); err != nil {
		runtime.RecordDenial(ctx, importTool, "private_host")
		return "", fmt.Errorf("import %s: %w", target, err)
	}
	p, err := pathArg(input, "path")
	if err != nil {
		return "", err
	}

	doc, err := ec.Fetcher.Fetch(ctx, target)
	if err != nil {
		return "", err
	}
	page := content.Page{
		ProjectID: ec.ProjectID,
		Path:      p,
		Title:     doc.Title,
		Content:   helpers.SanitizePageHTML(doc.HTML),
		UpdatedBy: ec.UserID,
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := ec.Content.PutPage(ctx, page); err != nil {
		return "", fmt.Errorf("store import %s: %w", p, err)
	}
	ec.pageChanged(ctx, streams.PageChange{Path: p, Change: streams.ChangeImported}, &page, input)
	return toJSON(map[string]any{
		"path":    p,
		"source":  target,
		"title":   doc.Title,
		"excerpt": doc.Excerpt,
		"chars":   len([]rune(doc.Text)),
	})
}
