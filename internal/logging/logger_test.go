package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftstudio/craftstudio/internal/config"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel).Component("registry").With("instance_id", "a1")

	logger.Warn("Worker stopped", "pid", 42, "error", errors.New("signal: interrupt"), 7, "dropped")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0]["level"])
	assert.Equal(t, "Worker stopped", got[0]["message"])
	assert.Equal(t, "registry", got[0]["component"])
	assert.Equal(t, "a1", got[0]["instance_id"])
	assert.Equal(t, float64(42), got[0]["pid"])
	assert.Equal(t, "signal: interrupt", got[0]["error"])
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.Debug("hidden")
	logger.Info("shown")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["message"])
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	assert.Same(t, logger, logger.WithContext(context.Background()))

	ctx := WithInstanceID(WithRequestID(context.Background(), "req-1"), "a1")
	logger.WithContext(ctx).Info("tagged")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0]["request_id"])
	assert.Equal(t, "a1", got[0]["instance_id"])
}

func TestNewFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shell.log")
	logger, err := NewFromConfig(config.LoggingConfig{Level: "bogus", Format: "json", OutputPath: path})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, zerolog.InfoLevel, logger.zl.GetLevel())

	logger, err = NewFromConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.zl.GetLevel())
}

func TestFiberMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel)

	app := fiber.New()
	app.Use(FiberMiddleware(logger, DefaultMiddlewareConfig()))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/v1/instances", func(c *fiber.Ctx) error {
		id, _ := c.UserContext().Value(requestIDKey).(string)
		return c.SendString(id)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("X-Request-ID"))
	assert.Empty(t, buf.String(), "health checks are not logged")

	req := httptest.NewRequest("GET", "/v1/instances", nil)
	req.Header.Set("X-Request-ID", "req-7")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-7", resp.Header.Get("X-Request-ID"))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "Request completed", got[0]["message"])
	assert.Equal(t, "req-7", got[0]["request_id"])
	assert.Equal(t, float64(200), got[0]["status"])
}
