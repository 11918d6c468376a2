package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paolomoz/nova/internal/content"
	"github.com/paolomoz/nova/internal/fetch"
	"github.com/paolomoz/nova/internal/queue/streams"
	"github.com/paolomoz/nova/internal/runtime"
	"github.com/paolomoz/nova/internal/search"
	"github.com/paolomoz/nova/internal/store"
)

type recordedChanges struct {
	mu      sync.Mutex
	changes []streams.PageChange
	err     error
}

func (r *recordedChanges) PageChanged(ctx context.Context, c streams.PageChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

type recordedActions struct {
	recs []store.ActionRecord
}

func (r *recordedActions) RecordAction(ctx context.Context, rec store.ActionRecord) (store.ActionRecord, error) {
	r.recs = append(r.recs, rec)
	return rec, nil
}

type stubFetcher struct {
	doc  fetch.Document
	urls []string
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string) (fetch.Document, error) {
	s.urls = append(s.urls, rawURL)
	return s.doc, nil
}

func publicResolver(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

func newExecContext(t *testing.T) (*ExecContext, *content.Memory, *recordedChanges) {
	t.Helper()
	idx, err := search.NewMemory()
	if err != nil {
		t.Fatalf("search.NewMemory: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	mem := content.NewMemory()
	changes := &recordedChanges{}
	return &ExecContext{
		UserID:    "u1",
		ProjectID: "p1",
		Content:   mem,
		Search:    idx,
		Brand:     mem,
		Blocks:    mem,
		Telemetry: mem,
		Changes:   changes,
		Actions:   &recordedActions{},
		Resolve:   publicResolver,
	}, mem, changes
}

func TestCreateThenReadRoundTrip(t *testing.T) {
	reg := NewBuiltin()
	ec, _, changes := newExecContext(t)
	ctx := context.Background()

	out, err := reg.Execute(ctx, "create_page", map[string]any{
		"path": "en/launch", "title": "Launch", "content": `<p onclick="x()">Hello <script>alert(1)</script>world</p>`,
	}, ec)
	if err != nil {
		t.Fatalf("create_page: %v", err)
	}
	if out != "Created page /en/launch" {
		t.Fatalf("unexpected result %q", out)
	}

	out, err = reg.Execute(ctx, "read_page", map[string]any{"path": "/en/launch"}, ec)
	if err != nil {
		t.Fatalf("read_page: %v", err)
	}
	var page content.Page
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode read result: %v", err)
	}
	if page.Title != "Launch" || !strings.Contains(page.Content, "Hello") {
		t.Fatalf("unexpected page %+v", page)
	}
	if strings.Contains(page.Content, "script") || strings.Contains(page.Content, "onclick") {
		t.Fatalf("content should be sanitised, got %q", page.Content)
	}

	// Re-running the same create leaves the same observable state.
	out, err = reg.Execute(ctx, "create_page", map[string]any{"path": "/en/launch", "title": "Launch", "content": "<p>Hello world</p>"}, ec)
	if err != nil || out != "Overwrote page /en/launch" {
		t.Fatalf("second create: %q %v", out, err)
	}
	if len(changes.changes) != 2 || changes.changes[0].Change != streams.ChangeCreated || changes.changes[1].Change != streams.ChangeUpdated {
		t.Fatalf("unexpected change events %+v", changes.changes)
	}
	if changes.changes[0].ProjectID != "p1" || changes.changes[0].Actor != "u1" {
		t.Fatalf("change should carry caller identity: %+v", changes.changes[0])
	}

	hits, err := ec.Search.Search(ctx, "p1", "hello", 5)
	if err != nil || len(hits) != 1 {
		t.Fatalf("created page should be indexed, hits=%v err=%v", hits, err)
	}
}

func TestListPagesUnderPrefix(t *testing.T) {
	reg := NewBuiltin()
	ec, mem, _ := newExecContext(t)
	ctx := context.Background()
	for _, p := range []string{"/en/a", "/en/b/c", "/english", "/de/a"} {
		if _, err := mem.PutPage(ctx, content.Page{ProjectID: "p1", Path: p}); err != nil {
			t.Fatalf("PutPage: %v", err)
		}
	}
	out, err := reg.Execute(ctx, "list_pages", map[string]any{"path": "/en"}, ec)
	if err != nil {
		t.Fatalf("list_pages: %v", err)
	}
	var res struct {
		Count int                   `json:"count"`
		Pages []content.PageSummary `json:"pages"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Count != 2 || res.Pages[0].Path != "/en/a" || res.Pages[1].Path != "/en/b/c" {
		t.Fatalf("unexpected listing %+v", res)
	}
}

func TestMoveCopyDelete(t *testing.T) {
	reg := NewBuiltin()
	ec, mem, changes := newExecContext(t)
	ctx := context.Background()
	if _, err := mem.PutPage(ctx, content.Page{ProjectID: "p1", Path: "/old", Title: "Old", Content: "<p>body</p>"}); err != nil {
		t.Fatalf("PutPage: %v", err)
	}

	if _, err := reg.Execute(ctx, "move_page", map[string]any{"source": "/old", "destination": "/new"}, ec); err != nil {
		t.Fatalf("move_page: %v", err)
	}
	if _, err := reg.Execute(ctx, "copy_page", map[string]any{"source": "/new", "destination": "/copy"}, ec); err != nil {
		t.Fatalf("copy_page: %v", err)
	}
	if _, err := reg.Execute(ctx, "move_page", map[string]any{"source": "/new", "destination": "/copy"}, ec); !errors.Is(err, content.ErrConflict) {
		t.Fatalf("expected conflict moving onto existing page, got %v", err)
	}
	out, err := reg.Execute(ctx, "delete_page", map[string]any{"path": "/copy"}, ec)
	if err != nil || out != "Deleted page /copy" {
		t.Fatalf("delete_page: %q %v", out, err)
	}
	out, err = reg.Execute(ctx, "delete_page", map[string]any{"path": "/copy"}, ec)
	if err != nil || !strings.Contains(out, "does not exist") {
		t.Fatalf("second delete should be a no-op: %q %v", out, err)
	}

	kinds := []streams.ChangeKind{}
	for _, c := range changes.changes {
		kinds = append(kinds, c.Change)
	}
	want := []streams.ChangeKind{streams.ChangeMoved, streams.ChangeCopied, streams.ChangeDeleted}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected changes %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected changes %v", kinds)
		}
	}
	if changes.changes[0].PreviousPath != "/old" {
		t.Fatalf("move should carry previous path: %+v", changes.changes[0])
	}
	if got := len(ec.Actions.(*recordedActions).recs); got != 3 {
		t.Fatalf("expected one action record per mutation, got %d", got)
	}
}

func TestHousekeepingFailureIsDiscarded(t *testing.T) {
	reg := NewBuiltin()
	ec, _, changes := newExecContext(t)
	changes.err = errors.New("redis down")
	if _, err := reg.Execute(context.Background(), "create_page", map[string]any{"path": "/a", "content": "x"}, ec); err != nil {
		t.Fatalf("publish failure must not fail the tool: %v", err)
	}
}

func TestExecuteUnknownAndInvalid(t *testing.T) {
	reg := NewBuiltin()
	ec, _, _ := newExecContext(t)
	ctx := context.Background()

	if _, err := reg.Execute(ctx, "launch_rocket", nil, ec); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if _, err := reg.Execute(ctx, "read_page", map[string]any{}, ec); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing path should fail validation, got %v", err)
	}
	if _, err := reg.Execute(ctx, "search_pages", map[string]any{"query": "x", "limit": "ten"}, ec); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("wrong type should fail validation, got %v", err)
	}
	if _, err := reg.Execute(ctx, "search_pages", map[string]any{"query": "x", "limit": 3}, ec); err != nil {
		t.Fatalf("Go int should validate as integer: %v", err)
	}
}

func TestPolicyDisablesAndTimesOut(t *testing.T) {
	reg := NewBuiltin()
	ec, _, _ := newExecContext(t)
	policy, err := runtime.ParseToolPolicy([]byte(`
tools:
  rules:
    delete_page:
      enabled: false
`), time.Second)
	if err != nil {
		t.Fatalf("ParseToolPolicy: %v", err)
	}
	ec.Policy = policy

	if _, err := reg.Execute(context.Background(), "delete_page", map[string]any{"path": "/a"}, ec); !errors.Is(err, ErrToolDisabled) {
		t.Fatalf("expected ErrToolDisabled, got %v", err)
	}
	for _, def := range reg.Catalog(policy) {
		if def.Name == "delete_page" {
			t.Fatalf("disabled tool must not be offered in the catalog")
		}
	}
	if got, all := len(reg.Catalog(policy)), len(reg.Catalog(nil)); got != all-1 {
		t.Fatalf("expected catalog of %d, got %d", all-1, got)
	}
}

func TestImportURLHonoursAllowlist(t *testing.T) {
	reg := NewBuiltin()
	ec, _, changes := newExecContext(t)
	policy, err := runtime.ParseToolPolicy([]byte(`
tools:
  rules:
    import_url:
      allow_hosts: [example.com]
`), time.Second)
	if err != nil {
		t.Fatalf("ParseToolPolicy: %v", err)
	}
	ec.Policy = policy
	fetcher := &stubFetcher{doc: fetch.Document{Title: "Spring launch", HTML: "<article><p>Hello</p></article>", Text: "Hello"}}
	ec.Fetcher = fetcher
	ctx := context.Background()

	if _, err := reg.Execute(ctx, "import_url", map[string]any{"url": "https://evil.test/x", "path": "/x"}, ec); err == nil {
		t.Fatalf("expected host rejection")
	}
	if len(fetcher.urls) != 0 {
		t.Fatalf("rejected host must not be fetched")
	}
	out, err := reg.Execute(ctx, "import_url", map[string]any{"url": "https://www.example.com/launch?utm_source=x", "path": "/en/launch"}, ec)
	if err != nil {
		t.Fatalf("import_url: %v", err)
	}
	if fetcher.urls[0] != "https://www.example.com/launch" {
		t.Fatalf("expected canonical url, got %q", fetcher.urls[0])
	}
	if !strings.Contains(out, `"title":"Spring launch"`) {
		t.Fatalf("unexpected result %s", out)
	}
	page, err := ec.Content.GetPage(ctx, "p1", "/en/launch")
	if err != nil || page.Title != "Spring launch" {
		t.Fatalf("imported page not stored: %+v %v", page, err)
	}
	if changes.changes[len(changes.changes)-1].Change != streams.ChangeImported {
		t.Fatalf("expected imported change event")
	}
}

func TestImportURLRejectsInternalHosts(t *testing.T) {
	reg := NewBuiltin()
	ec, _, _ := newExecContext(t)
	ec.Policy = runtime.DefaultToolPolicy(time.Second)
	ec.Resolve = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		if host == "metadata.internal.example" {
			return []net.IPAddr{{IP: net.ParseIP("169.254.169.254")}}, nil
		}
		return publicResolver(ctx, host)
	}
	fetcher := &stubFetcher{doc: fetch.Document{Title: "x", HTML: "<p>x</p>"}}
	ec.Fetcher = fetcher
	ctx := context.Background()

	for _, raw := range []string{
		"http://169.254.169.254/latest/meta-data/iam",
		"http://localhost:6379/",
		"http://10.0.0.5/admin",
		"http://metadata.internal.example/",
	} {
		if _, err := reg.Execute(ctx, "import_url", map[string]any{"url": raw, "path": "/x"}, ec); err == nil {
			t.Fatalf("%s: expected rejection", raw)
		}
	}
	if len(fetcher.urls) != 0 {
		t.Fatalf("internal hosts must not be fetched, got %v", fetcher.urls)
	}
	if _, err := ec.Content.GetPage(ctx, "p1", "/x"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("nothing should be stored, got %v", err)
	}
}

func TestCatalogToolsAndChecksum(t *testing.T) {
	reg := NewBuiltin()
	ec, mem, _ := newExecContext(t)
	mem.SetBrandProfile(content.BrandProfile{ProjectID: "p1", Name: "Acme", Voice: "plain"})
	mem.AddBlock("p1", content.Block{Name: "hero", Category: "layout", Markup: "<div class=hero></div>"})
	ctx := context.Background()

	out, err := reg.Execute(ctx, "get_brand_profile", map[string]any{}, ec)
	if err != nil || !strings.Contains(out, `"name":"Acme"`) {
		t.Fatalf("get_brand_profile: %s %v", out, err)
	}
	out, err = reg.Execute(ctx, "list_blocks", map[string]any{"category": "layout"}, ec)
	if err != nil || !strings.Contains(out, `"count":1`) || strings.Contains(out, "markup") {
		t.Fatalf("list_blocks: %s %v", out, err)
	}
	if _, err := reg.Execute(ctx, "get_block", map[string]any{"name": "nope"}, ec); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	defs := reg.Catalog(nil)
	if len(defs) != 13 {
		t.Fatalf("expected 13 built-in tools, got %d", len(defs))
	}
	a, _ := Checksum(defs)
	b, _ := Checksum(NewBuiltin().Catalog(nil))
	if a == "" || a != b {
		t.Fatalf("checksum should be stable, got %q vs %q", a, b)
	}
	if len(LLMTools(defs)) != len(defs) {
		t.Fatalf("LLMTools should convert every definition")
	}
	if !reg.IsMutating("create_page") || reg.IsMutating("read_page") {
		t.Fatalf("mutating flags wrong")
	}
}
