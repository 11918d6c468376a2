package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/paolomoz/nova/config"
)

func TestEchoAuthMiddlewareAcceptsBearer(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("user-1", secret, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	h := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		seen, _ = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen != "user-1" {
		t.Fatalf("expected subject user-1, got %q", seen)
	}
	if c.Get("user_id") != "user-1" {
		t.Fatalf("expected user_id on echo context")
	}
}

func TestEchoAuthMiddlewareRejects(t *testing.T) {
	secret := []byte("s3cret")
	other, _ := SignJWT("user-1", []byte("other"), time.Minute)
	expired, _ := SignJWT("user-1", secret, -time.Minute)

	for name, header := range map[string]string{
		"missing":    "",
		"bad secret": "Bearer " + other,
		"expired":    "Bearer " + expired,
	} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		c := e.NewContext(req, httptest.NewRecorder())
		err := EchoAuthMiddleware(secret)(func(c echo.Context) error { return nil })(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %v", name, err)
		}
	}
}

func TestLoadJWTSecretPreference(t *testing.T) {
	cfg := &config.Config{General: config.GeneralConfig{JWTSecret: "general"}}
	got, err := LoadJWTSecret(cfg)
	if err != nil || string(got) != "general" {
		t.Fatalf("expected general secret, got %q err=%v", got, err)
	}
	cfg.Server.JWTSecret = "server"
	got, _ = LoadJWTSecret(cfg)
	if string(got) != "server" {
		t.Fatalf("server secret should win, got %q", got)
	}
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Postgres: config.PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "nova"}}}
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil {
		t.Fatalf("BuildPostgresDSN: %v", err)
	}
	if dsn != "postgres://u:p@db:5432/nova?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}
