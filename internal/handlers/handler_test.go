package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/middleware"
	"github.com/craftstudio/craftstudio/internal/models"
)

type testEnv struct {
	app       *fiber.App
	instances *fakeInstances
	store     *appconfig.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := appconfig.Open(filepath.Join(t.TempDir(), "craftstudio.json"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Flush(ctx)
	})

	instances := newFakeInstances(store)
	h := New(logging.NewNop(), instances, store, "test")

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.NewNop())})
	app.Get("/health", h.Health)
	v1 := app.Group("/v1")
	v1.Get("/instances", h.ListInstances)
	v1.Post("/instances", h.AddInstance)
	v1.Get("/instances/:id", h.GetInstance)
	v1.Patch("/instances/:id", h.UpdateInstance)
	v1.Delete("/instances/:id", h.DeleteInstance)
	v1.Post("/instances/:id/restart", h.RestartInstance)
	v1.Post("/instances/:id/activate", h.ActivateInstance)
	v1.Get("/instances/:id/activity", h.InstanceActivity)
	v1.Get("/instances/:id/worker/status", h.WorkerStatus)
	v1.Get("/instances/:id/worker/peers", h.WorkerPeers)
	v1.Get("/config", h.GetConfig)
	v1.Patch("/config", h.PatchConfig)
	v1.Post("/config/reset", h.ResetConfig)
	app.Use(h.NotFound)

	return &testEnv{app: app, instances: instances, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, data
}

func (e *testEnv) seed(id string, connected bool) {
	inst := models.DefaultInstanceConfig()
	inst.ID = id
	inst.Name = id
	inst.DataDir = "/data/" + id
	inst.Port = 4001
	_, _, _ = e.instances.Add(context.Background(), inst, "")
	e.instances.mu.Lock()
	e.instances.connected[id] = connected
	e.instances.mu.Unlock()
}

func errorOf(t *testing.T, data []byte) models.ErrorDetail {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &resp), string(data))
	return resp.Error
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, "GET", "/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.NotEmpty(t, health.Timestamp)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, "GET", "/nonexistent", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	detail := errorOf(t, data)
	assert.Equal(t, "NOT_FOUND", detail.Code)
	assert.Equal(t, "Route not found", detail.Message)
	assert.Equal(t, "/nonexistent", detail.Path)
}

func TestAddInstance(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, "POST", "/v1/instances", map[string]interface{}{
		"instance": map[string]interface{}{"id": "a1", "name": "Main", "dataDir": "/data/a1", "port": 4001},
		"apiKey":   "worker-key",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(data))

	var added struct {
		Instance map[string]interface{} `json:"instance"`
	}
	require.NoError(t, json.Unmarshal(data, &added))
	assert.Equal(t, "a1", added.Instance["id"])
	assert.Equal(t, true, added.Instance["active"])
	assert.Equal(t, float64(10), added.Instance["maxStorageGB"], "absent fields take defaults")

	rec, err := env.instances.Get("a1")
	require.NoError(t, err)
	assert.True(t, rec.Capabilities.Client)
	assert.Equal(t, "worker-key", env.instances.apiKeys["a1"])
}

func TestAddInstance_DataDirFromDefaultRoot(t *testing.T) {
	env := newTestEnv(t)
	root := "/srv/craft"
	env.store.Update(appconfig.Patch{Settings: &models.SettingsPatch{DefaultDataRoot: &root}})

	resp, data := env.do(t, "POST", "/v1/instances", map[string]interface{}{
		"instance": map[string]interface{}{"id": "b2"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(data))

	view, err := env.instances.Get("b2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b2"), view.DataDir)
}

func TestAddInstance_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seed("a1", false)

	resp, data := env.do(t, "POST", "/v1/instances", map[string]interface{}{
		"instance": map[string]interface{}{"name": "no dir"},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INSTANCE", errorOf(t, data).Code)

	resp, data = env.do(t, "POST", "/v1/instances", map[string]interface{}{
		"instance": map[string]interface{}{"id": "a1", "dataDir": "/data/other"},
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_ID", errorOf(t, data).Code)

	req := httptest.NewRequest("POST", "/v1/instances", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	raw, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, raw.StatusCode)
}

func TestListAndGetInstances(t *testing.T) {
	env := newTestEnv(t)
	env.seed("a1", true)
	env.seed("a2", false)

	resp, data := env.do(t, "GET", "/v1/instances", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var list struct {
		Instances        []map[string]interface{} `json:"instances"`
		ActiveInstanceID string                   `json:"activeInstanceId"`
	}
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Instances, 2)
	assert.Equal(t, "a1", list.Instances[0]["id"])
	assert.Equal(t, "connected", list.Instances[0]["connection"])
	assert.Equal(t, "a2", list.ActiveInstanceID)

	resp, data = env.do(t, "GET", "/v1/instances/a2", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var one map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &one))
	assert.Equal(t, "disconnected", one["connection"])
	assert.Equal(t, "idle", one["restartState"])

	resp, data = env.do(t, "GET", "/v1/instances/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "INSTANCE_NOT_FOUND", errorOf(t, data).Code)
}

func TestUpdateInstance_ReportsDecision(t *testing.T) {
	env := newTestEnv(t)
	env.seed("a1", true)

	tests := []struct {
		name   string
		body   map[string]interface{}
		action string
	}{
		{"storage is hot", map[string]interface{}{"maxStorageGB": 100}, "hot-reload"},
		{"name is hot", map[string]interface{}{"name": "Renamed"}, "hot-reload"},
		{"port restarts", map[string]interface{}{"port": 4010}, "restart"},
		{"capabilities restart", map[string]interface{}{"capabilities": map[string]bool{"storage": true}}, "restart"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(t, "PATCH", "/v1/instances/a1", tt.body)
			require.Equal(t, fiber.StatusAccepted, resp.StatusCode, string(data))
			var accepted models.AcceptedResponse
			require.NoError(t, json.Unmarshal(data, &accepted))
			assert.True(t, accepted.Accepted)
			assert.Equal(t, "a1", accepted.InstanceID)
			assert.Equal(t, tt.action, accepted.Action)
		})
	}

	view, err := env.instances.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, 4010, view.Port)
	assert.Equal(t, int64(100), view.MaxStorageGB)
	assert.Equal(t, "Renamed", view.Name)
}

func TestUpdateInstance_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seed("a1", true)

	resp, data := env.do(t, "PATCH", "/v1/instances/a1", map[string]interface{}{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "EMPTY_PATCH", errorOf(t, data).Code)

	resp, data = env.do(t, "PATCH", "/v1/instances/a1", map[string]interface{}{"port": 70000})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PORT", errorOf(t, data).Code)

	resp, _ = env.do(t, "PATCH", "/v1/instances/missing", map[string]interface{}{"name": "x"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteInstance(t *testing.T) {
	env := newTestEnv(t)
	env.seed("a1", false)

	resp, data := env.do(t, "DELETE", "/v1/instances/a1", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode, string(data))
	_, err := env.instances.Get("a1")
	assert.Error(t, err)

	resp, _ = env.do(t, "DELETE", "/v1/instances/a1", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRestartAndActivate(t *testing.T) {
	env := newTestEnv(t)
	env.seed("a1", false)
	env.seed("a2", false)

	resp, _ := env.do(t, "POST", "/v1/instances/a1/restart", nil)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"a1"}, env.instances.restarts)

	resp, data := env.do(t, "POST", "/v1/instances/a1/activate", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, true, view["active"])
	assert.Equal(t, "a1", env.instances.ActiveID())

	resp, _ = env.do(t, "POST", "/v1/instances/missing/activate", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestInstanceActivity(t *testing.T) {
	env := newTestEnv(t)
	env.seed("a1", false)
	env.instances.activity["a1"] = []models.ActivityEvent{
		{Timestamp: time.Unix(100, 0).UTC(), Message: "Connecting…", Level: models.ActivityInfo},
	}

	resp, data := env.do(t, "GET", "/v1/instances/a1/activity", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var activity models.ActivityResponse
	require.NoError(t, json.Unmarshal(data, &activity))
	assert.Equal(t, "a1", activity.InstanceID)
	require.Len(t, activity.Events, 1)
	assert.Equal(t, "Connecting…", activity.Events[0].Message)

	resp, _ = env.do(t, "GET", "/v1/instances/missing/activity", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestWorkerProxy(t *testing.T) {
	env := newTestEnv(t)
	env.seed("up", true)
	env.seed("down", false)

	resp, data := env.do(t, "GET", "/v1/instances/up/worker/status", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var status models.WorkerStatus
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "node-up", status.NodeID)

	resp, data = env.do(t, "GET", "/v1/instances/up/worker/peers", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var peers models.PeerList
	require.NoError(t, json.Unmarshal(data, &peers))
	assert.Len(t, peers.Peers, 2)

	resp, data = env.do(t, "GET", "/v1/instances/down/worker/status", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "NOT_CONNECTED", errorOf(t, data).Code)

	env.instances.workerErr = errors.New("status: rpc error: code = Unavailable")
	resp, data = env.do(t, "GET", "/v1/instances/up/worker/status", nil)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "WORKER_ERROR", errorOf(t, data).Code)
}

func TestConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, "GET", "/v1/config", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, float64(2), doc["schemaVersion"])

	resp, data = env.do(t, "PATCH", "/v1/config", map[string]interface{}{
		"settings": map[string]interface{}{"workerBinary": "/opt/craft/worker", "restartGracePeriodMs": 500},
		"ui":       map[string]interface{}{"theme": "dark"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(data))
	got := env.store.Get()
	assert.Equal(t, "/opt/craft/worker", got.Settings.WorkerBinary)
	assert.Equal(t, 500, got.Settings.RestartGracePeriodMs)
	assert.Equal(t, "dark", got.UI.Theme)
	require.Len(t, env.instances.settings, 1, "settings reach the registry")
	assert.Equal(t, "/opt/craft/worker", env.instances.settings[0].WorkerBinary)

	resp, _ = env.do(t, "PATCH", "/v1/config", map[string]interface{}{"ui": map[string]interface{}{"language": "de"}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, env.instances.settings, 1, "ui-only patch leaves settings alone")

	resp, data = env.do(t, "PATCH", "/v1/config", map[string]interface{}{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "EMPTY_PATCH", errorOf(t, data).Code)

	resp, _ = env.do(t, "PATCH", "/v1/config", map[string]interface{}{
		"settings": map[string]interface{}{"restartGracePeriodMs": -1},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/v1/config/reset", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "system", env.store.Get().UI.Theme)
}
