package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// InitClient replaces an instance's control connection with a new one
func (r *Registry) InitClient(ctx context.Context, id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	return r.initClient(ctx, e)
}

func (r *Registry) initClient(ctx context.Context, e *entry) error {
	client := r.newClient()

	r.mu.Lock()
	if e.removed || r.closed {
		r.mu.Unlock()
		_ = client.Close()
		if r.closed {
			return ErrClosed
		}
		return ErrNotFound
	}
	prev := e.client
	e.gen++
	gen := e.gen
	e.client = client
	e.status = models.StatusConnecting
	dataDir, apiKey := e.cfg.DataDir, e.apiKey
	r.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			r.logger.Debug("Control client close failed", "instance_id", e.id, "error", err)
		}
	}

	r.note(e, models.ActivityInfo, "Connecting…")
	client.OnConnection(func(connected bool) {
		r.onConnection(e, gen, client, connected)
	})

	if dataDir == "" {
		r.connectFailed(e, gen, ErrDataDirRequired)
		return ErrDataDirRequired
	}
	if err := client.Start(ctx, dataDir, apiKey); err != nil {
		r.connectFailed(e, gen, err)
		return fmt.Errorf("start control client: %w", err)
	}
	r.logger.Debug("Control client started", "instance_id", e.id, "data_dir", dataDir)
	return nil
}

func (r *Registry) connectFailed(e *entry, gen uint64, err error) {
	r.mu.Lock()
	current := !e.removed && e.gen == gen
	if current {
		e.status = models.StatusDisconnected
	}
	r.mu.Unlock()
	if !current {
		return
	}
	r.logger.Warn("Failed to start control connection", "instance_id", e.id, "error", err)
	r.note(e, models.ActivityError, fmt.Sprintf("Connection failed: %v", err))
}

// current reports whether gen is still e's live connection
func (r *Registry) current(e *entry, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !e.removed && !r.closed && e.gen == gen
}

func (r *Registry) onConnection(e *entry, gen uint64, client ControlClient, connected bool) {
	status := models.StatusDisconnected
	if connected {
		status = models.StatusConnected
	}

	r.mu.Lock()
	if e.removed || r.closed || e.gen != gen {
		r.mu.Unlock()
		r.logger.Debug("Ignoring event from superseded connection", "instance_id", e.id, "connected", connected)
		return
	}
	e.status = status
	r.mu.Unlock()

	if !connected {
		r.logger.Warn("Control connection lost", "instance_id", e.id)
		r.note(e, models.ActivityWarning, "Disconnected")
		return
	}

	r.logger.Info("Control connection established", "instance_id", e.id)
	r.note(e, models.ActivitySuccess, "Connected")
	r.tasks.Go(func() error {
		r.enrich(e, gen, client)
		return nil
	})
}

// enrich records the worker's identity and peer count after a connect.
// Failures are not reported; the connection itself is what matters.
func (r *Registry) enrich(e *entry, gen uint64, client ControlClient) {
	ctx, cancel := context.WithTimeout(r.ctx, utils.ControlEnrichTimeout)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		r.logger.Debug("Worker status unavailable", "instance_id", e.id, "error", err)
		return
	}
	if !r.current(e, gen) {
		return
	}
	msg := fmt.Sprintf("Worker %s", status.NodeID)
	if status.Version != "" {
		msg += " v" + status.Version
	}
	if len(status.Capabilities) > 0 {
		msg += " (" + strings.Join(status.Capabilities, ", ") + ")"
	}
	r.note(e, models.ActivityInfo, msg)

	peers, err := client.ListPeers(ctx)
	if err != nil {
		r.logger.Debug("Worker peers unavailable", "instance_id", e.id, "error", err)
		return
	}
	if !r.current(e, gen) {
		return
	}
	r.note(e, models.ActivityInfo, fmt.Sprintf("%d peers", len(peers)))
}
