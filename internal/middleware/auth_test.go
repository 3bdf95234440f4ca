package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftstudio/craftstudio/internal/config"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
)

func testKey(length int) string {
	key := make([]byte, length)
	for i := range key {
		key[i] = 'a' + byte(i%26)
	}
	return string(key)
}

func authApp(cfg config.AuthConfig) *fiber.App {
	app := fiber.New()
	app.Use(APIKeyAuth(logging.NewNop(), cfg))
	app.Get("/v1/instances", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	return app
}

func TestValidateAPIKey(t *testing.T) {
	assert.True(t, ValidateAPIKey(testKey(32)))
	assert.True(t, ValidateAPIKey(testKey(64)))
	assert.False(t, ValidateAPIKey(testKey(31)))
	assert.False(t, ValidateAPIKey(""))
	assert.False(t, ValidateAPIKey(strings.Repeat(" ", 40)))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "abcd****", maskAPIKey("abcdefgh"))
	assert.Equal(t, "****", maskAPIKey("abcd"))
	assert.Equal(t, "****", maskAPIKey(""))
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	app := authApp(config.AuthConfig{Enabled: false})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/instances", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuth_AcceptedHeaders(t *testing.T) {
	key := testKey(32)
	app := authApp(config.AuthConfig{Enabled: true, APIKeys: []string{key}})

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"x-api-key", "X-API-Key", key},
		{"bearer", "Authorization", "Bearer " + key},
		{"plain authorization", "Authorization", key},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/instances", nil)
			req.Header.Set(tt.header, tt.value)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuth_Rejected(t *testing.T) {
	key := testKey(32)
	app := authApp(config.AuthConfig{Enabled: true, APIKeys: []string{key}})

	tests := []struct {
		name    string
		value   string
		message string
	}{
		{"missing", "", "API key is required. Provide it via X-API-Key or Authorization header."},
		{"wrong", testKey(33), "Invalid API key."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/instances", nil)
			if tt.value != "" {
				req.Header.Set("X-API-Key", tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var errResp models.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.Equal(t, "UNAUTHORIZED", errResp.Error.Code)
			assert.Equal(t, tt.message, errResp.Error.Message)
			assert.Equal(t, "/v1/instances", errResp.Error.Path)
		})
	}
}

func TestAPIKeyAuth_WeakKeysIgnored(t *testing.T) {
	weak := "short-key"
	app := authApp(config.AuthConfig{Enabled: true, APIKeys: []string{weak}})

	req := httptest.NewRequest("GET", "/v1/instances", nil)
	req.Header.Set("X-API-Key", weak)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
