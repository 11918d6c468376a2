package store

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store is the Postgres-backed persistence layer for pages, catalogues,
// action history and per-user context.
type Store struct {
	DB *sql.DB
}

var (
	metricsOnce     sync.Once
	actionsRecorded otelmetric.Int64Counter
	contextUpserts  otelmetric.Int64Counter
)

func initStoreMetrics() {
	meter := otel.Meter("nova/store")
	actionsRecorded, _ = meter.Int64Counter("nova_actions_recorded_total",
		otelmetric.WithDescription("Action history records written"))
	contextUpserts, _ = meter.Int64Counter("nova_user_context_upserts_total",
		otelmetric.WithDescription("User context upsert statements executed"))
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
