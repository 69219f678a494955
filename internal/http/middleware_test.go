package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"raito/internal/config"
	"raito/internal/store"
)

// Test that authMiddleware rejects a request with no Authorization header.
func TestAuthMiddleware_MissingAuth(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Enabled = true

	st := &store.Store{}

	app := fiber.New()
	app.Use(authMiddleware(cfg, st))
	app.Get("/protected", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

// Test that authMiddleware rejects a bearer token not in the raito_
// prefixed format without ever reaching the store.
func TestAuthMiddleware_InvalidKeyFormat(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Enabled = true

	st := &store.Store{}

	app := fiber.New()
	app.Use(authMiddleware(cfg, st))
	app.Get("/protected", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-raito-key")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

// Test that authMiddleware is a no-op when auth is disabled.
func TestAuthMiddleware_Disabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Enabled = false

	st := &store.Store{}

	app := fiber.New()
	app.Use(authMiddleware(cfg, st))
	app.Get("/protected", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
