package usercontext_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	"github.com/paolomoz/nova/internal/agent/core"
	"github.com/paolomoz/nova/internal/store"
	"github.com/paolomoz/nova/internal/usercontext"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestConcurrentAccumulationAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("nova"),
		tcPostgres.WithUsername("nova"),
		tcPostgres.WithPassword("nova"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	pgHost, _ := pgC.Host(ctx)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	redisHost, _ := redisC.Host(ctx)
	redisPort, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://nova:nova@%s:%s/nova?sslmode=disable", pgHost, pgPort.Port())
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()
	schemaSQL, err := os.ReadFile("../../migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := st.DB.ExecContext(ctx, string(schemaSQL)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	defer func() { _ = rdb.Close() }()
	acc := usercontext.New(st, rdb)

	const runs = 8
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := "list pages"
			if i == 3 {
				prompt = "add JSON-LD and hreflang to /en/a"
			}
			errs <- acc.Accumulate(ctx, core.CompletedRun{
				RunID: fmt.Sprintf("r%d", i), UserID: "u1", ProjectID: "p1", Prompt: prompt,
				ToolCalls: []core.ToolCall{{Name: "read_page", Input: map[string]any{"path": fmt.Sprintf("/p%d", i)}}},
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Accumulate: %v", err)
		}
	}

	uc, err := acc.Get(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if uc.ToolFrequency["read_page"] != runs {
		t.Fatalf("lost update: expected %d, got %d", runs, uc.ToolFrequency["read_page"])
	}
	if uc.ExpertiseLevel != usercontext.LevelAdvanced {
		t.Fatalf("expected advanced, got %s", uc.ExpertiseLevel)
	}
	if len(uc.ActivePaths) != runs {
		t.Fatalf("expected %d active paths, got %v", runs, uc.ActivePaths)
	}
}
