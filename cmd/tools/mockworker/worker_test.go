package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/craftstudio/craftstudio/internal/control"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

func newTestWorker(t *testing.T) *worker {
	t.Helper()
	return newWorker("node-1", "0.0.1", t.TempDir(), []string{"client", "storage"}, logging.NewNop())
}

func TestWorker_Status(t *testing.T) {
	w := newTestWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(w.dataDir, "blob"), make([]byte, 128), 0o600))

	out, err := w.Status(context.Background())
	require.NoError(t, err)

	var st models.WorkerStatus
	require.NoError(t, control.FromStruct(out, &st))
	assert.Equal(t, "node-1", st.NodeID)
	assert.Equal(t, []string{"client", "storage"}, st.Capabilities)
	assert.Equal(t, int64(128), st.StorageUsed)
	assert.Zero(t, st.PeerCount)
}

func TestWorker_SetRuntimeConfigKeepsUnknownKeys(t *testing.T) {
	w := newTestWorker(t)
	path := workerconfig.RuntimeConfigPath(w.dataDir)
	require.NoError(t, os.WriteFile(path, []byte(`{"version":2,"controlPort":4001,"storageQuota":1,"plugins":["a"]}`), 0o600))

	patch, err := structpb.NewStruct(map[string]interface{}{"storageQuota": float64(107374182400)})
	require.NoError(t, err)
	_, err = w.SetRuntimeConfig(context.Background(), patch)
	require.NoError(t, err)

	cfg, err := workerconfig.ReadRuntimeConfig(w.dataDir)
	require.NoError(t, err)
	assert.Equal(t, int64(107374182400), cfg.StorageQuota)
	assert.Equal(t, 4001, cfg.ControlPort)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"plugins"`)
	assert.Contains(t, string(data), `107374182400`)
}

func TestWorker_Call(t *testing.T) {
	w := newTestWorker(t)
	ctx := context.Background()

	req, err := structpb.NewStruct(map[string]interface{}{"method": "ping", "params": map[string]interface{}{}})
	require.NoError(t, err)
	out, err := w.Call(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, true, out.AsMap()["pong"])

	req, err = structpb.NewStruct(map[string]interface{}{
		"method": "addPeer",
		"params": map[string]interface{}{"id": "p1", "address": "10.0.0.2:4100"},
	})
	require.NoError(t, err)
	_, err = w.Call(ctx, req)
	require.NoError(t, err)

	peersOut, err := w.ListPeers(ctx)
	require.NoError(t, err)
	var list models.PeerList
	require.NoError(t, control.FromStruct(peersOut, &list))
	require.Len(t, list.Peers, 1)
	assert.Equal(t, "p1", list.Peers[0].ID)

	req, err = structpb.NewStruct(map[string]interface{}{"method": "reboot"})
	require.NoError(t, err)
	_, err = w.Call(ctx, req)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestControlAddress(t *testing.T) {
	addr, err := controlAddress("/tmp/w.sock", 4001)
	require.NoError(t, err)
	assert.Equal(t, "unix:///tmp/w.sock", addr)

	addr, err = controlAddress("", 4001)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4001", addr)

	_, err = controlAddress("", 0)
	assert.Error(t, err)

	assert.Equal(t, []string{"client", "storage"}, splitCapabilities(" client, ,storage"))
}
