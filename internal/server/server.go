// Package server exposes the AI orchestration engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/paolomoz/nova/config"
	"github.com/paolomoz/nova/internal/runtime"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	JWTSecret      []byte
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
	// Ready reports dependency health for /healthz; nil always reports ok.
	Ready func(ctx context.Context) error
}

// corsConfig allows credentialed (cookie) requests only from explicitly listed
// origins. Without a list, or when "*" is listed, any origin may call the API
// with a bearer header but cookies are not sent.
func corsConfig(allowed []string) middleware.CORSConfig {
	cfg := middleware.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}
	origins := make([]string, 0, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			cfg.AllowOrigins = []string{"*"}
			return cfg
		}
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"*"}
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// NewEcho builds the echo instance with middleware and routes.
func NewEcho(ai *AIHandler, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(corsConfig(opts.AllowedOrigins)))

	e.GET("/healthz", func(c echo.Context) error {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
			}
		}
		return c.String(http.StatusOK, "ok")
	})
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	g := e.Group("/ai")
	g.Use(runtime.EchoAuthMiddleware(opts.JWTSecret))
	ai.Register(g)
	return e
}

// Run wires the application from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	if cfg.Server.AutoMigrate {
		dsn, err := runtime.BuildPostgresDSN(cfg)
		if err != nil {
			return err
		}
		if err := Migrate(cfg.Server.MigrationsDir, dsn, "up", 0); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Worker.Embedded {
		if err := app.StartIndexing(ctx); err != nil {
			return err
		}
	}

	e := NewEcho(&AIHandler{
		Runner:       app.Orchestrator,
		History:      app.Store,
		Context:      app.Accumulator,
		DefaultLimit: cfg.Agent.HistoryLimit,
		Logger:       log.New(log.Writer(), "[AI] ", log.LstdFlags),
	}, Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JWTSecret:      secret,
		Metrics:        app.Telemetry.Handler(),
		Ready:          app.Ready,
	})

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// let accumulation and action logging of finished runs complete
	app.Orchestrator.Wait()
	return nil
}
