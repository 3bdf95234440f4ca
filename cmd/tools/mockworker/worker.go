package main

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/craftstudio/craftstudio/internal/control"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

// worker serves the control service from the files in its data dir
type worker struct {
	nodeID       string
	version      string
	dataDir      string
	capabilities []string
	startedAt    time.Time
	files        *workerconfig.Files
	logger       *logging.Logger

	mu    sync.Mutex
	peers []models.Peer
}

func newWorker(nodeID, version, dataDir string, capabilities []string, logger *logging.Logger) *worker {
	return &worker{
		nodeID:       nodeID,
		version:      version,
		dataDir:      dataDir,
		capabilities: capabilities,
		startedAt:    time.Now(),
		files:        workerconfig.NewFiles(),
		logger:       logger,
		peers:        []models.Peer{},
	}
}

func (w *worker) Status(ctx context.Context) (*structpb.Struct, error) {
	w.mu.Lock()
	peers := len(w.peers)
	w.mu.Unlock()

	return control.ToStruct(models.WorkerStatus{
		NodeID:        w.nodeID,
		Version:       w.version,
		UptimeSeconds: int64(time.Since(w.startedAt).Seconds()),
		Capabilities:  w.capabilities,
		PeerCount:     peers,
		StorageUsed:   diskUsage(w.dataDir),
	})
}

func (w *worker) ListPeers(ctx context.Context) (*structpb.Struct, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return control.ToStruct(models.PeerList{Peers: w.peers})
}

// SetRuntimeConfig merges patch into config.json. Keys the shell does not
// model are kept.
func (w *worker) SetRuntimeConfig(ctx context.Context, patch *structpb.Struct) (*structpb.Struct, error) {
	var applyErr error
	cfg, err := w.files.UpdateRuntimeConfig(w.dataDir, func(cur models.WorkerRuntimeConfig) models.WorkerRuntimeConfig {
		next, err := mergeRuntime(cur, patch.AsMap())
		if err != nil {
			applyErr = err
			return cur
		}
		return next
	})
	if err == nil {
		err = applyErr
	}
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "apply runtime config: %v", err)
	}

	w.logger.Info("Runtime config updated", "keys", len(patch.GetFields()), "storage_quota", cfg.StorageQuota)
	return control.ToStruct(cfg)
}

func (w *worker) GetRuntimeConfig(ctx context.Context) (*structpb.Struct, error) {
	cfg, err := w.files.ReadRuntimeConfig(w.dataDir)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "read runtime config: %v", err)
	}
	return control.ToStruct(cfg)
}

// Call serves ping and addPeer; anything else is unimplemented
func (w *worker) Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	method := req.GetFields()["method"].GetStringValue()
	params := req.GetFields()["params"].GetStructValue().AsMap()

	switch method {
	case "ping":
		return structpb.NewStruct(map[string]interface{}{"pong": true, "nodeId": w.nodeID})
	case "addPeer":
		var peer models.Peer
		if err := control.FromStruct(req.GetFields()["params"].GetStructValue(), &peer); err != nil || peer.ID == "" {
			return nil, status.Errorf(codes.InvalidArgument, "addPeer needs an id, got %v", params)
		}
		w.mu.Lock()
		w.peers = append(w.peers, peer)
		n := len(w.peers)
		w.mu.Unlock()
		return structpb.NewStruct(map[string]interface{}{"peers": float64(n)})
	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown method %q", method)
	}
}

// mergeRuntime overlays patch on cur through their JSON forms
func mergeRuntime(cur models.WorkerRuntimeConfig, patch map[string]interface{}) (models.WorkerRuntimeConfig, error) {
	base, err := control.ToStruct(cur)
	if err != nil {
		return cur, err
	}
	merged := base.AsMap()
	for k, v := range patch {
		merged[k] = v
	}
	s, err := structpb.NewStruct(merged)
	if err != nil {
		return cur, err
	}
	var next models.WorkerRuntimeConfig
	if err := control.FromStruct(s, &next); err != nil {
		return cur, err
	}
	return next, nil
}

func diskUsage(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
