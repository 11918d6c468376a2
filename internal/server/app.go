package server

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/paolomoz/nova/config"
	"github.com/paolomoz/nova/internal/agent/core"
	"github.com/paolomoz/nova/internal/fetch"
	"github.com/paolomoz/nova/internal/llm"
	"github.com/paolomoz/nova/internal/queue/streams"
	"github.com/paolomoz/nova/internal/runtime"
	"github.com/paolomoz/nova/internal/search"
	"github.com/paolomoz/nova/internal/store"
	"github.com/paolomoz/nova/internal/tools"
	"github.com/paolomoz/nova/internal/usercontext"
	"github.com/paolomoz/nova/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

// App holds the long-lived dependencies of the serve process.
type App struct {
	Config       *config.Config
	Store        *store.Store
	Redis        *redis.Client
	Index        *search.Index
	Telemetry    *runtime.Telemetry
	Orchestrator *core.Orchestrator
	Accumulator  *usercontext.Accumulator
	logger       *log.Logger
}

// NewApp connects storage, telemetry and the LLM provider and builds the orchestrator.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, logger: log.New(log.Writer(), "[APP] ", log.LstdFlags)}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: "nova", ServiceVersion: "dev"})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	app.Telemetry = tel

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	if app.Store, err = store.NewWithDSN(ctx, dsn); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if app.Redis, err = runtime.NewRedisClient(ctx, cfg); err != nil {
		return nil, err
	}
	if app.Index, err = search.Open(cfg.Search.IndexPath); err != nil {
		return nil, err
	}

	policy, err := runtime.LoadToolPolicy(cfg)
	if err != nil {
		return nil, err
	}
	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	var fast llm.Client
	if cfg.LLM.FastModel != "" && cfg.LLM.FastModel != cfg.LLM.Model {
		fastCfg := cfg.LLM
		fastCfg.Model = cfg.LLM.FastModel
		if fast, err = llm.New(fastCfg); err != nil {
			return nil, err
		}
	}

	ec := tools.ExecContext{
		Content:   app.Store,
		Search:    app.Index,
		Brand:     app.Store,
		Blocks:    app.Store,
		Telemetry: app.Store,
		Fetcher:   fetch.New(cfg.Fetch),
		Actions:   app.Store,
		Logger:    log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
	}
	if app.Redis != nil {
		registry := streams.NewSchemaRegistry()
		if err := streams.RegisterDefaults(registry); err != nil {
			return nil, err
		}
		pub := streams.NewPublisher(app.Redis, registry, cfg.Worker.StreamMaxLen)
		ec.Changes = streams.NewPageChangePublisher(pub, cfg.Worker.Stream)
	}

	app.Accumulator = usercontext.New(app.Store, app.Redis)
	app.Orchestrator, err = core.NewOrchestrator(cfg, core.Deps{
		LLM:         client,
		FastLLM:     fast,
		Registry:    tools.Default(),
		Policy:      policy,
		Tools:       ec,
		Actions:     app.Store,
		Accumulator: app.Accumulator,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return app, nil
}

// StartIndexing runs the page-change consumer and the reindex schedule in the
// background until ctx is cancelled. Every serve replica reads the stream
// through its own group so each local index sees all changes.
func (a *App) StartIndexing(ctx context.Context) error {
	host, _ := os.Hostname()
	if host == "" {
		host = "serve"
	}
	return StartIndexing(ctx, a.Config, a.Store, a.Index, a.Redis, a.Config.Worker.Group+":"+host, host)
}

// StartIndexing launches the indexing workers for idx. Without Redis only the
// reindex schedule runs.
func StartIndexing(ctx context.Context, cfg *config.Config, st worker.PageSource, idx worker.Index, rdb *redis.Client, group, consumer string) error {
	logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	reindexer, err := worker.NewReindexer(logger, st, idx, rdb, cfg.Worker.ReindexCron)
	if err != nil {
		return err
	}
	go func() {
		if err := reindexer.Start(ctx); err != nil {
			logger.Printf("warn: reindex schedule stopped: %v", err)
		}
	}()
	if rdb == nil {
		logger.Printf("redis not configured; page-change consumer disabled")
		return nil
	}
	registry := streams.NewSchemaRegistry()
	if err := streams.RegisterDefaults(registry); err != nil {
		return err
	}
	cons, err := streams.NewConsumer(rdb, registry, cfg.Worker.Stream, group, consumer)
	if err != nil {
		return err
	}
	proc := worker.NewProcessor(logger, cons, st, idx, cfg.Worker.BatchSize, cfg.Worker.Block, otel.Meter("nova/internal/worker"), otel.Tracer("nova/internal/worker"))
	proc.ReclaimInterval = cfg.Worker.PollInterval
	go func() {
		if err := proc.Start(ctx); err != nil {
			logger.Printf("warn: page-change consumer stopped: %v", err)
		}
	}()
	return nil
}

// Ready pings Postgres and, when configured, Redis.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Store.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases every dependency that was opened.
func (a *App) Close() {
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			a.logger.Printf("warn: close index: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(context.Background()); err != nil {
			a.logger.Printf("warn: telemetry shutdown: %v", err)
		}
	}
}
