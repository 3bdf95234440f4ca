package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/reconciler"
	"github.com/craftstudio/craftstudio/internal/supervisor"
	"github.com/craftstudio/craftstudio/internal/tasks"
)

// RestartInstance stops, reconfigures, starts and reconnects an instance's
// worker in the returned task
func (r *Registry) RestartInstance(ctx context.Context, id string) (*tasks.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	cfg, _ := r.config(e)
	ports := reconciler.StopPorts(cfg, cfg)

	return r.tasks.Go(func() error {
		return r.restart(e, ports)
	}), nil
}

// restart runs the restart sequence for e. Sequences for one instance
// never overlap. Step failures are recorded and the sequence carries on;
// a removal ends it between steps.
func (r *Registry) restart(e *entry, stopPorts []int) error {
	e.restartMu.Lock()
	defer e.restartMu.Unlock()

	r.mu.RLock()
	snapshot := e.cfg.Clone()
	launched := e.launchedPort
	removed := e.removed || r.closed
	r.mu.RUnlock()
	if removed {
		return nil
	}

	r.logger.Info("Restarting worker", "instance_id", e.id, "stop_ports", stopPorts)
	r.note(e, models.ActivityInfo, "Restarting worker")

	var failures []error

	// 1. Stop whatever runs on the old or new port or in the data dir
	r.setRestartState(e, models.RestartStopping)
	r.closeClient(e)
	ports := mergePorts(stopPorts, snapshot.Port, launched)
	stopped, err := r.stopMatching(e, ports, snapshot.DataDir)
	if err != nil {
		failures = append(failures, err)
	}
	if stopped > 0 {
		r.sleep(r.currentSettings().grace)
	}
	if r.isRemoved(e) {
		return errors.Join(failures...)
	}

	// 2. Rewrite the runtime config from the record
	r.setRestartState(e, models.RestartReconfiguring)
	cfg, merged, err := r.writeFiles(e)
	if err != nil {
		failures = append(failures, err)
	}
	if r.isRemoved(e) {
		return errors.Join(failures...)
	}

	// 3. Start the worker
	r.setRestartState(e, models.RestartStarting)
	if err := r.startWorker(e, cfg, merged); err != nil {
		failures = append(failures, err)
	}
	if r.isRemoved(e) {
		return errors.Join(failures...)
	}

	// 4. Reconnect, whatever the start outcome
	r.setRestartState(e, models.RestartReconnecting)
	if err := r.initClient(r.ctx, e); err != nil && !errors.Is(err, ErrNotFound) {
		failures = append(failures, err)
	}

	if len(failures) > 0 {
		r.setRestartState(e, models.RestartFailed)
		r.logger.Warn("Restart finished with errors", "instance_id", e.id, "error", errors.Join(failures...))
		r.note(e, models.ActivityError, "Restart failed")
		return errors.Join(failures...)
	}
	r.setRestartState(e, models.RestartIdle)
	r.logger.Info("Restart completed", "instance_id", e.id, "control_port", cfg.Port)
	r.note(e, models.ActivitySuccess, "Restart completed")
	return nil
}

func (r *Registry) setRestartState(e *entry, state models.RestartState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.removed {
		return
	}
	e.restart = state
	r.logger.Debug("Restart state", "instance_id", e.id, "state", string(state))
}

// closeClient drops e's control connection. Callbacks of the dropped
// client are ignored from here on.
func (r *Registry) closeClient(e *entry) {
	r.mu.Lock()
	client := e.client
	e.client = nil
	e.gen++
	if !e.removed && client != nil {
		e.status = models.StatusDisconnected
	}
	r.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		r.logger.Debug("Control client close failed", "instance_id", e.id, "error", err)
	}
}

// stopMatching stops every worker on one of ports or in dataDir and
// returns how many were stopped
func (r *Registry) stopMatching(e *entry, ports []int, dataDir string) (int, error) {
	procs, err := r.supervisor.List(r.ctx)
	if err != nil {
		r.logger.Error("Failed to list workers", "instance_id", e.id, "error", err)
		r.note(e, models.ActivityError, fmt.Sprintf("Failed to list workers: %v", err))
		return 0, fmt.Errorf("list workers: %w", err)
	}

	stopped := 0
	var errs []error
	for _, p := range procs {
		if !containsPort(ports, p.ControlPort) && !sameDir(p.DataDir, dataDir) {
			continue
		}

		r.logger.Info("Stopping worker", "instance_id", e.id, "pid", p.PID, "control_port", p.ControlPort)
		if err := r.supervisor.Stop(r.ctx, p.PID); err != nil {
			if errors.Is(err, supervisor.ErrNotFound) {
				continue
			}
			r.logger.Error("Failed to stop worker", "instance_id", e.id, "pid", p.PID, "error", err)
			r.note(e, models.ActivityError, fmt.Sprintf("Failed to stop worker (pid %d): %v", p.PID, err))
			errs = append(errs, fmt.Errorf("stop worker %d: %w", p.PID, err))
			continue
		}
		stopped++
		r.note(e, models.ActivityInfo, fmt.Sprintf("Worker stopped (pid %d)", p.PID))
	}
	return stopped, errors.Join(errs...)
}

// startWorker launches e's worker. A worker that is already running
// counts as started.
func (r *Registry) startWorker(e *entry, cfg models.InstanceConfig, merged models.WorkerRuntimeConfig) error {
	desc := reconciler.Descriptor(merged, cfg, r.currentSettings().binary)

	info, err := r.supervisor.Start(r.ctx, desc)
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		r.logger.Info("Worker already running", "instance_id", e.id, "control_port", desc.ControlPort)
		r.note(e, models.ActivityInfo, "Worker already running")
	case err != nil:
		r.logger.Error("Failed to start worker", "instance_id", e.id, "binary", desc.BinaryPath, "error", err)
		r.note(e, models.ActivityError, fmt.Sprintf("Failed to start worker: %v", err))
		return fmt.Errorf("start worker: %w", err)
	default:
		r.logger.Info("Worker started",
			"instance_id", e.id,
			"pid", info.PID,
			"control_port", desc.ControlPort,
			"capabilities", desc.Capabilities,
		)
		r.note(e, models.ActivitySuccess, fmt.Sprintf("Worker started (pid %d)", info.PID))
	}

	r.mu.Lock()
	e.launchedPort = desc.ControlPort
	r.mu.Unlock()
	return nil
}

func (r *Registry) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.ctx.Done():
	}
}

// mergePorts appends the non-zero extra ports missing from ports
func mergePorts(ports []int, extra ...int) []int {
	out := append([]int(nil), ports...)
	for _, p := range extra {
		if p > 0 && !containsPort(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsPort(ports []int, port int) bool {
	if port <= 0 {
		return false
	}
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}
