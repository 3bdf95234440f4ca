package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/config"
	"github.com/craftstudio/craftstudio/internal/handlers"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
)

const testAPIKey = "test-key-0123456789abcdef0123456789"

// stubInstances answers the list endpoint; anything else panics
type stubInstances struct {
	handlers.Instances
}

func (stubInstances) List() []models.InstanceView { return []models.InstanceView{} }
func (stubInstances) ActiveID() string             { return "" }

func newTestApp(t *testing.T, auth config.AuthConfig) *fiber.App {
	t.Helper()
	store, err := appconfig.Open(filepath.Join(t.TempDir(), "craftstudio.json"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Flush(ctx)
	})

	cfg := *config.DefaultConfig()
	cfg.Auth = auth
	return New(logging.NewNop(), stubInstances{}, store, cfg, "1.2.3")
}

func request(t *testing.T, app *fiber.App, method, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRouter_HealthSkipsAuth(t *testing.T) {
	app := newTestApp(t, config.AuthConfig{Enabled: true, APIKeys: []string{testAPIKey}})

	status, body := request(t, app, "GET", "/health", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"version":"1.2.3"`)
}

func TestRouter_V1RequiresKey(t *testing.T) {
	app := newTestApp(t, config.AuthConfig{Enabled: true, APIKeys: []string{testAPIKey}})

	status, body := request(t, app, "GET", "/v1/instances", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Contains(t, body, "UNAUTHORIZED")

	status, body = request(t, app, "GET", "/v1/instances", map[string]string{"X-API-Key": testAPIKey})
	assert.Equal(t, fiber.StatusOK, status)

	var list models.InstanceListResponse
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Empty(t, list.Instances)

	status, _ = request(t, app, "GET", "/v1/config", map[string]string{"Authorization": "Bearer " + testAPIKey})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestRouter_AuthDisabled(t *testing.T) {
	app := newTestApp(t, config.AuthConfig{})

	status, body := request(t, app, "GET", "/v1/config", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"schemaVersion":2`)
}

func TestRouter_NotFound(t *testing.T) {
	app := newTestApp(t, config.AuthConfig{})

	status, body := request(t, app, "GET", "/v2/unknown", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Contains(t, body, "NOT_FOUND")
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	app := newTestApp(t, config.AuthConfig{})

	// stubInstances does not implement Get
	status, body := request(t, app, "GET", "/v1/instances/x", nil)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.True(t, strings.Contains(body, "INTERNAL_SERVER_ERROR"), body)
}

func TestRouter_CORSPreflight(t *testing.T) {
	app := newTestApp(t, config.AuthConfig{})

	req := httptest.NewRequest("OPTIONS", "/v1/instances", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	resp, err := app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
