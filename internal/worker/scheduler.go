package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

const reindexLockKey = "nova:reindex:lock"

// Reindexer rebuilds every project's search documents on a cron schedule.
type Reindexer struct {
	logger  *log.Logger
	pages   PageSource
	index   Index
	rdb     *redis.Client
	expr    *cronexpr.Expression
	lockTTL time.Duration
	now     func() time.Time
}

// NewReindexer parses spec ("@daily", "@hourly" or a cron expression).
// rdb may be nil, in which case no cross-process lock is taken.
func NewReindexer(logger *log.Logger, pages PageSource, idx Index, rdb *redis.Client, spec string) (*Reindexer, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reindex schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Reindexer{logger: logger, pages: pages, index: idx, rdb: rdb, expr: expr, lockTTL: 10 * time.Minute, now: time.Now}, nil
}

// Next returns the first scheduled time after t.
func (r *Reindexer) Next(t time.Time) time.Time {
	return r.expr.Next(t)
}

// Start runs reindex passes at each scheduled time until ctx is cancelled.
func (r *Reindexer) Start(ctx context.Context) error {
	for {
		next := r.Next(r.now())
		if next.IsZero() {
			return fmt.Errorf("reindex schedule has no future runs")
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Printf("warn: scheduled reindex failed: %v", err)
		}
	}
}

// RunOnce reindexes all projects. Other processes holding the lock make it a no-op.
func (r *Reindexer) RunOnce(ctx context.Context) error {
	if r.rdb != nil {
		ok, err := r.rdb.SetNX(ctx, reindexLockKey, "1", r.lockTTL).Result()
		if err != nil {
			return fmt.Errorf("reindex lock: %w", err)
		}
		if !ok {
			r.logger.Printf("reindex already running elsewhere; skipping")
			return nil
		}
		defer r.rdb.Del(context.WithoutCancel(ctx), reindexLockKey)
	}

	projects, err := r.pages.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	t0 := time.Now()
	var failed int
	for _, projectID := range projects {
		pages, err := r.pages.ListAllPages(ctx, projectID)
		if err == nil {
			err = r.index.Reindex(ctx, projectID, pages)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			r.logger.Printf("warn: reindex project %s: %v", projectID, err)
			continue
		}
		r.logger.Printf("reindexed project %s: %d pages", projectID, len(pages))
	}
	r.logger.Printf("reindex pass finished in %s (%d projects, %d failed)", time.Since(t0).Round(time.Millisecond), len(projects), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d projects failed to reindex", failed, len(projects))
	}
	return nil
}
