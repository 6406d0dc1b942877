package http

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"stocksync/internal/config"
	"stocksync/internal/store"
)

func authTestApp(t *testing.T, cfg *config.Config, mockSetup func(sqlmock.Sqlmock)) *fiber.App {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if mockSetup != nil {
		mockSetup(mock)
	}

	st := store.New(db)
	app := fiber.New()
	app.Get("/v1/ping", authMiddleware(cfg, st), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func TestAuth_MissingHeader(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Enabled: true}}
	app := authTestApp(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuth_BadKeyPrefix(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Enabled: true}}
	app := authTestApp(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer not_a_stocksync_key")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuth_UnknownKey(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Enabled: true}}
	app := authTestApp(t, cfg, func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery(`SELECT (.+) FROM api_keys`).
			WillReturnError(sql.ErrNoRows)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer ss_unknown")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuth_ValidKey(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Enabled: true}}
	app := authTestApp(t, cfg, func(mock sqlmock.Sqlmock) {
		rows := sqlmock.NewRows([]string{"id", "label", "is_admin", "rate_limit_per_minute", "created_at", "revoked_at"}).
			AddRow(uuid.New(), "ci", false, nil, time.Now().UTC(), nil)
		mock.ExpectQuery(`SELECT (.+) FROM api_keys`).
			WillReturnRows(rows)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer ss_valid_key")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuth_DisabledPassesThrough(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Enabled: false}}
	app := authTestApp(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
