package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/logging"
)

func setupTestApp(t *testing.T, logs io.Writer) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Use(RequestID())
	app.Use(Audit(logging.NewWithWriter(logs, "info", "json")))
	app.Use(IdempotencyKey())
	app.Post("/resource", func(c *fiber.Ctx) error {
		key, _ := c.Locals(IdempotencyKeyLocal).(string)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key})
	})
	app.Get("/resource", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestIdempotencyKeyRequiredOnUnsafeMethods(t *testing.T) {
	app := setupTestApp(t, io.Discard)

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(idempotencyKeyHeader, strings.Repeat("k", maxIdempotencyKeyLen+1))
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/resource", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, "safe methods need no key")
}

func TestIdempotencyKeyExposedToHandlers(t *testing.T) {
	app := setupTestApp(t, io.Discard)

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(idempotencyKeyHeader, " dep-42 ")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "dep-42", resp.Header.Get(idempotencyKeyHeader))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "dep-42", body["key"])
}

func TestRequestIDAndAudit(t *testing.T) {
	var logs bytes.Buffer
	app := setupTestApp(t, &logs)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/resource", nil))
	require.NoError(t, err)
	generated := resp.Header.Get(requestIDHeader)
	require.NotEmpty(t, generated)

	req := httptest.NewRequest(fiber.MethodGet, "/resource", nil)
	req.Header.Set(requestIDHeader, "req-1")
	_, err = app.Test(req)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	require.Equal(t, "request completed", entry["msg"])
	require.Equal(t, "req-1", entry["request_id"])
	require.Equal(t, float64(fiber.StatusOK), entry["status"])
}

func TestAuditTagsIdempotencyKeyAndFailures(t *testing.T) {
	var logs bytes.Buffer
	app := setupTestApp(t, &logs)

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(idempotencyKeyHeader, "dep-7")
	req.Header.Set(requestIDHeader, strings.Repeat("r", maxRequestIDLen+1))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(requestIDHeader), 36, "oversized request id is replaced")

	_, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}")))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 2)

	var ok, failed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.Equal(t, "request completed", ok["msg"])
	require.Equal(t, "dep-7", ok["idempotency_key"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))
	require.Equal(t, "request failed", failed["msg"])
	require.Equal(t, "WARN", failed["level"])
	require.NotContains(t, failed, "idempotency_key")
	require.Contains(t, failed["error"], "Idempotency-Key")
}
