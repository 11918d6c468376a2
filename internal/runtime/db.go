package runtime

import (
	"context"
	"fmt"

	"github.com/paolomoz/nova/config"
	"github.com/redis/go-redis/v9"
)

// BuildPostgresDSN constructs a DSN from the application configuration.
func BuildPostgresDSN(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("config is nil")
	}
	p := cfg.Storage.Postgres
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// NewRedisClient connects to the configured Redis. It returns (nil, nil)
// when no Redis host is configured.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg == nil || !cfg.Storage.Redis.Enabled() {
		return nil, nil
	}
	r := cfg.Storage.Redis
	opts := &redis.Options{Addr: r.Addr(), Password: r.Password, DB: r.DB}
	if r.Timeout > 0 {
		opts.DialTimeout = r.Timeout
		opts.ReadTimeout = r.Timeout
		opts.WriteTimeout = r.Timeout
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", r.Addr(), err)
	}
	return rdb, nil
}
