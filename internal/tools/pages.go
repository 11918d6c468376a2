package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paolomoz/nova/internal/content"
	"github.com/paolomoz/nova/internal/helpers"
	"github.com/paolomoz/nova/internal/queue/streams"
)

var errNoContentStore = errors.New("content store is not configured")

var pathProp = Property{Type: "string", Description: "Repository path of the page, e.g. /en/blog/post"}

func registerPageTools(r *Registry) {
	r.MustRegister(Definition{
		Name:        "list_pages",
		Description: "List the pages at or below a repository path.",
		InputSchema: Object(map[string]Property{
			"path": {Type: "string", Description: "Folder path to list, e.g. /en. Use / for the whole project."},
		}, "path"),
	}, listPages)
	r.MustRegister(Definition{
		Name:        "read_page",
		Description: "Read the title and HTML content of a page.",
		InputSchema: Object(map[string]Property{"path": pathProp}, "path"),
	}, readPage)
	r.MustRegister(Definition{
		Name:        "create_page",
		Description: "Create a page at a path. An existing page at that path is overwritten.",
		InputSchema: Object(map[string]Property{
			"path":    pathProp,
			"content": {Type: "string", Description: "HTML body of the page"},
			"title":   {Type: "string", Description: "Optional page title"},
		}, "path", "content"),
		Mutating: true,
	}, createPage)
	r.MustRegister(Definition{
		Name:        "update_page",
		Description: "Replace the content of an existing page.",
		InputSchema: Object(map[string]Property{
			"path":    pathProp,
			"content": {Type: "string", Description: "New HTML body of the page"},
		}, "path", "content"),
		Mutating: true,
	}, updatePage)
	r.MustRegister(Definition{
		Name:        "delete_page",
		Description: "Delete a page.",
		InputSchema: Object(map[string]Property{"path": pathProp}, "path"),
		Mutating:    true,
	}, deletePage)
	r.MustRegister(Definition{
		Name:        "move_page",
		Description: "Move a page to a new path. Fails if the destination exists.",
		InputSchema: Object(map[string]Property{
			"source":      {Type: "string", Description: "Current path of the page"},
			"destination": {Type: "string", Description: "New path of the page"},
		}, "source", "destination"),
		Mutating: true,
	}, movePage)
	r.MustRegister(Definition{
		Name:        "copy_page",
		Description: "Copy a page to a new path, overwriting the destination if present.",
		InputSchema: Object(map[string]Property{
			"source":      {Type: "string", Description: "Path of the page to copy"},
			"destination": {Type: "string", Description: "Path of the copy"},
		}, "source", "destination"),
		Mutating: true,
	}, copyPage)
}

func listPages(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	prefix, err := pathArg(input, "path")
	if err != nil {
		return "", err
	}
	pages, err := ec.Content.ListPages(ctx, ec.ProjectID, prefix)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", prefix, err)
	}
	if pages == nil {
		pages = []content.PageSummary{}
	}
	return toJSON(map[string]any{"path": prefix, "count": len(pages), "pages": pages})
}

func readPage(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	p, err := pathArg(input, "path")
	if err != nil {
		return "", err
	}
	page, err := ec.Content.GetPage(ctx, ec.ProjectID, p)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return toJSON(page)
}

func createPage(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	p, err := pathArg(input, "path")
	if err != nil {
		return "", err
	}
	body, _ := input["content"].(string)
	page := content.Page{
		ProjectID: ec.ProjectID,
		Path:      p,
		Title:     optString(input, "title"),
		Content:   helpers.SanitizePageHTML(body),
		UpdatedBy: ec.UserID,
		UpdatedAt: time.Now().UTC(),
	}
	created, err := ec.Content.PutPage(ctx, page)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	kind, verb := streams.ChangeCreated, "Created"
	if !created {
		kind, verb = streams.ChangeUpdated, "Overwrote"
	}
	ec.pageChanged(ctx, streams.PageChange{Path: p, Change: kind}, &page, input)
	return fmt.Sprintf("%s page %s", verb, p), nil
}

func updatePage(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	p, err := pathArg(input, "path")
	if err != nil {
		return "", err
	}
	page, err := ec.Content.GetPage(ctx, ec.ProjectID, p)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", p, err)
	}
	body, _ := input["content"].(string)
	page.Content = helpers.SanitizePageHTML(body)
	page.UpdatedBy = ec.UserID
	page.UpdatedAt = time.Now().UTC()
	if _, err := ec.Content.PutPage(ctx, page); err != nil {
		return "", fmt.Errorf("update %s: %w", p, err)
	}
	ec.pageChanged(ctx, streams.PageChange{Path: p, Change: streams.ChangeUpdated}, &page, input)
	return fmt.Sprintf("Updated page %s", p), nil
}

func deletePage(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	p, err := pathArg(input, "path")
	if err != nil {
		return "", err
	}
	if err := ec.Content.DeletePage(ctx, ec.ProjectID, p); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return fmt.Sprintf("Page %s does not exist; nothing deleted", p), nil
		}
		return "", fmt.Errorf("delete %s: %w", p, err)
	}
	ec.pageChanged(ctx, streams.PageChange{Path: p, Change: streams.ChangeDeleted}, nil, input)
	return fmt.Sprintf("Deleted page %s", p), nil
}

func movePage(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	src, dst, err := sourceAndDestination(input)
	if err != nil {
		return "", err
	}
	if err := ec.Content.MovePage(ctx, ec.ProjectID, src, dst); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	var moved *content.Page
	if page, err := ec.Content.GetPage(ctx, ec.ProjectID, dst); err == nil {
		moved = &page
	}
	ec.pageChanged(ctx, streams.PageChange{Path: dst, PreviousPath: src, Change: streams.ChangeMoved}, moved, input)
	return fmt.Sprintf("Moved page %s to %s", src, dst), nil
}

func copyPage(ctx context.Context, input map[string]any, ec *ExecContext) (string, error) {
	if ec.Content == nil {
		return "", errNoContentStore
	}
	src, dst, err := sourceAndDestination(input)
	if err != nil {
		return "", err
	}
	page, err := ec.Content.GetPage(ctx, ec.ProjectID, src)
	if err != nil {
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	page.Path = dst
	page.UpdatedBy = ec.UserID
	page.UpdatedAt = time.Now().UTC()
	if _, err := ec.Content.PutPage(ctx, page); err != nil {
		return "", fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	ec.pageChanged(ctx, streams.PageChange{Path: dst, PreviousPath: src, Change: streams.ChangeCopied}, &page, input)
	return fmt.Sprintf("Copied page %s to %s", src, dst), nil
}

func sourceAndDestination(input map[string]any) (string, string, error) {
	src, err := pathArg(input, "source")
	if err != nil {
		return "", "", err
	}
	dst, err := pathArg(input, "destination")
	if err != nil {
		return "", "", err
	}
	if src == dst {
		return "", "", fmt.Errorf("source and destination are the same path %s", src)
	}
	return src, dst, nil
}
