package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/paolomoz/nova/internal/content"
	"github.com/paolomoz/nova/internal/queue/streams"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const reclaimIdle = time.Minute

// Index is the search index the worker keeps fresh.
type Index interface {
	IndexPage(ctx context.Context, page content.Page) error
	RemovePage(ctx context.Context, projectID, path string) error
	Reindex(ctx context.Context, projectID string, pages []content.Page) error
}

// PageSource reads the authoritative page content.
type PageSource interface {
	GetPage(ctx context.Context, projectID, path string) (content.Page, error)
	ListProjects(ctx context.Context) ([]string, error)
	ListAllPages(ctx context.Context, projectID string) ([]content.Page, error)
}

// MessageSource is the consumer-group view of the page-change stream.
type MessageSource interface {
	Stream() string
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int64, block time.Duration) ([]streams.Message, error)
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]streams.Message, error)
	Ack(ctx context.Context, ids ...string) error
}

// Processor consumes page.changed events and applies them to the search index.
type Processor struct {
	logger    *log.Logger
	source    MessageSource
	pages     PageSource
	index     Index
	batch     int64
	block     time.Duration
	tracer    trace.Tracer
	processed otelmetric.Int64Counter
	failed    otelmetric.Int64Counter

	// idle is the pause after an empty read when reads do not block.
	idle time.Duration

	// ReclaimInterval is how often entries abandoned by dead consumers are
	// taken over. Zero reclaims only at start.
	ReclaimInterval time.Duration
}

// NewProcessor constructs a Processor. meter and tracer may be nil.
func NewProcessor(logger *log.Logger, src MessageSource, pages PageSource, idx Index, batch int64, block time.Duration, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if batch <= 0 {
		batch = 50
	}
	p := &Processor{logger: logger, source: src, pages: pages, index: idx, batch: batch, block: block, tracer: tracer, idle: time.Second}
	if meter != nil {
		var err error
		p.processed, err = meter.Int64Counter("nova_worker_page_changes_processed_total")
		if err != nil {
			logger.Printf("warn: create processed counter failed: %v", err)
		}
		p.failed, err = meter.Int64Counter("nova_worker_page_changes_failed_total")
		if err != nil {
			logger.Printf("warn: create failed counter failed: %v", err)
		}
	}
	return p
}

// Start blocks, processing page changes until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.source.EnsureGroup(ctx); err != nil {
		return err
	}
	p.logger.Printf("page-change processor starting; consuming stream %s", p.source.Stream())
	if msgs, err := p.source.Reclaim(ctx, reclaimIdle, p.batch); err != nil {
		p.logger.Printf("warn: reclaim pending entries failed: %v", err)
	} else {
		p.handleBatch(ctx, msgs)
	}

	lastReclaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("page-change processor stopping: %v", ctx.Err())
			return nil
		default:
		}
		if p.ReclaimInterval > 0 && time.Since(lastReclaim) >= p.ReclaimInterval {
			lastReclaim = time.Now()
			if msgs, err := p.source.Reclaim(ctx, reclaimIdle, p.batch); err != nil {
				p.logger.Printf("warn: reclaim pending entries failed: %v", err)
			} else {
				p.handleBatch(ctx, msgs)
			}
		}
		msgs, err := p.source.Read(ctx, p.batch, p.block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(msgs) == 0 && p.block <= 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.idle):
			}
			continue
		}
		p.handleBatch(ctx, msgs)
	}
}

func (p *Processor) handleBatch(ctx context.Context, msgs []streams.Message) {
	for _, msg := range msgs {
		if err := p.Handle(ctx, msg); err != nil {
			// left pending; the next reclaim pass retries it
			p.logger.Printf("error handling page change %s: %v", msg.ID, err)
			if p.failed != nil {
				p.failed.Add(ctx, 1)
			}
			continue
		}
		if err := p.source.Ack(ctx, msg.ID); err != nil {
			p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
		}
		if p.processed != nil {
			p.processed.Add(ctx, 1)
		}
	}
}

// Handle applies one page change to the index.
func (p *Processor) Handle(ctx context.Context, msg streams.Message) error {
	ctx, span := p.tracer.Start(ctx, "worker.page_changed")
	defer span.End()

	change, err := streams.DecodePageChange(msg)
	if err != nil {
		// malformed payloads can never succeed
		p.logger.Printf("warn: drop page change %s: %v", msg.ID, err)
		return nil
	}
	if change.Change == streams.ChangeMoved && change.PreviousPath != "" {
		if err := p.index.RemovePage(ctx, change.ProjectID, change.PreviousPath); err != nil {
			return fmt.Errorf("unindex %s: %w", change.PreviousPath, err)
		}
	}
	if change.Change == streams.ChangeDeleted {
		return p.index.RemovePage(ctx, change.ProjectID, change.Path)
	}
	page, err := p.pages.GetPage(ctx, change.ProjectID, change.Path)
	if errors.Is(err, content.ErrNotFound) {
		// deleted after the event was published
		return p.index.RemovePage(ctx, change.ProjectID, change.Path)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", change.Path, err)
	}
	if err := p.index.IndexPage(ctx, page); err != nil {
		return fmt.Errorf("index %s: %w", change.Path, err)
	}
	return nil
}
