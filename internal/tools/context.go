package tools

import (
	"context"
	"log"
	"sync"

	"github.com/paolomoz/nova/internal/content"
	"github.com/paolomoz/nova/internal/fetch"
	"github.com/paolomoz/nova/internal/helpers"
	"github.com/paolomoz/nova/internal/queue/streams"
	"github.com/paolomoz/nova/internal/runtime"
	"github.com/paolomoz/nova/internal/search"
	"github.com/paolomoz/nova/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Searcher is the full-text index used by search_pages and kept fresh by page tools.
type Searcher interface {
	Search(ctx context.Context, projectID, text string, limit int) ([]search.Hit, error)
	IndexPage(ctx context.Context, page content.Page) error
	RemovePage(ctx context.Context, projectID, path string) error
}

// Fetcher retrieves readable content from an external URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Document, error)
}

// ActionRecorder appends to the action history.
type ActionRecorder interface {
	RecordAction(ctx context.Context, rec store.ActionRecord) (store.ActionRecord, error)
}

// ExecContext carries the caller identity and collaborator handles a tool may use.
// Nil collaborators make the tools that need them fail with a descriptive error.
type ExecContext struct {
	UserID    string
	ProjectID string

	Content   content.Store
	Search    Searcher
	Brand     content.BrandStore
	Blocks    content.BlockStore
	Telemetry content.TelemetryStore
	Fetcher   Fetcher
	Actions   ActionRecorder
	Changes   streams.PageChangeNotifier
	Policy    *runtime.ToolPolicy
	// Resolve looks up import hosts; nil uses the system resolver.
	Resolve helpers.IPLookup

	Logger *log.Logger
}

func (ec *ExecContext) logf(format string, args ...interface{}) {
	if ec.Logger != nil {
		ec.Logger.Printf(format, args...)
		return
	}
	log.Printf("[TOOLS] "+format, args...)
}

// pageChanged runs the housekeeping that follows a mutation: search index
// refresh, change publication and the audit record. Failures are logged only.
func (ec *ExecContext) pageChanged(ctx context.Context, change streams.PageChange, page *content.Page, input map[string]any) {
	change.ProjectID = ec.ProjectID
	change.Actor = ec.UserID
	if ec.Search != nil {
		if change.PreviousPath != "" && change.Change == streams.ChangeMoved {
			if err := ec.Search.RemovePage(ctx, ec.ProjectID, change.PreviousPath); err != nil {
				ec.logf("warn: unindex %s: %v", change.PreviousPath, err)
			}
		}
		var err error
		if change.Change == streams.ChangeDeleted {
			err = ec.Search.RemovePage(ctx, ec.ProjectID, change.Path)
		} else if page != nil {
			err = ec.Search.IndexPage(ctx, *page)
		}
		if err != nil {
			ec.logf("warn: index %s: %v", change.Path, err)
		}
	}
	if ec.Changes != nil {
		if err := ec.Changes.PageChanged(ctx, change); err != nil {
			ec.logf("warn: %v", err)
		}
	}
	if ec.Actions != nil {
		rec := store.ActionRecord{
			UserID:      ec.UserID,
			ProjectID:   ec.ProjectID,
			ActionType:  "page_" + string(change.Change),
			Description: describeChange(change),
			Input:       input,
			Output:      map[string]interface{}{"path": change.Path},
		}
		if _, err := ec.Actions.RecordAction(ctx, rec); err != nil {
			ec.logf("warn: record %s: %v", rec.ActionType, err)
		}
	}
}

func describeChange(c streams.PageChange) string {
	if c.PreviousPath != "" {
		return string(c.Change) + " " + c.PreviousPath + " -> " + c.Path
	}
	return string(c.Change) + " " + c.Path
}

var (
	toolMetricsOnce sync.Once
	toolCalls       otelmetric.Int64Counter
)

func recordToolCall(ctx context.Context, name string) {
	toolMetricsOnce.Do(func() {
		var err error
		toolCalls, err = otel.Meter("nova/internal/tools").Int64Counter("nova_tool_executions_total",
			otelmetric.WithDescription("Tool handler invocations"))
		if err != nil {
			log.Printf("[TOOLS] metrics init: %v", err)
		}
	})
	if toolCalls != nil {
		toolCalls.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("tool", name)))
	}
}
