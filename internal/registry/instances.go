package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/reconciler"
	"github.com/craftstudio/craftstudio/internal/tasks"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// Add registers a new instance and makes it active. The returned task
// writes the instance's files, starts its worker and connects to it.
func (r *Registry) Add(ctx context.Context, inst models.InstanceConfig, apiKey string) (models.InstanceConfig, *tasks.Task, error) {
	if err := ctx.Err(); err != nil {
		return models.InstanceConfig{}, nil, err
	}
	if strings.TrimSpace(inst.DataDir) == "" {
		return models.InstanceConfig{}, nil, ErrDataDirRequired
	}

	inst = inst.Clone()
	inst.DataDir = filepath.Clean(inst.DataDir)
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.InstanceConfig{}, nil, ErrClosed
	}
	if _, ok := r.entries[inst.ID]; ok {
		r.mu.Unlock()
		return models.InstanceConfig{}, nil, ErrDuplicateID
	}
	if owner := r.dataDirOwnerLocked(inst.DataDir); owner != "" {
		r.mu.Unlock()
		return models.InstanceConfig{}, nil, fmt.Errorf("%w: %s", ErrDuplicateDataDir, owner)
	}

	e := &entry{
		id:      inst.ID,
		cfg:     inst,
		apiKey:  apiKey,
		restart: models.RestartIdle,
	}
	r.entries[e.id] = e
	r.order = append(r.order, e.id)
	r.activeID = e.id
	r.persistLocked()
	r.mu.Unlock()

	r.logger.Info("Instance added", "instance_id", inst.ID, "data_dir", inst.DataDir, "port", inst.Port)
	r.note(e, models.ActivityInfo, "Instance added")

	task := r.tasks.Go(func() error {
		return r.bringUp(e, true)
	})
	return inst.Clone(), task, nil
}

// Update merges patch into an instance's record and persists it. The
// returned task rewrites the instance's files and then either pushes the
// change to the running worker or restarts it.
func (r *Registry) Update(ctx context.Context, id string, patch models.InstancePatch) (*tasks.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if patch.DataDir != nil && strings.TrimSpace(*patch.DataDir) == "" {
		return nil, ErrDataDirRequired
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	prev := e.cfg
	next := prev.Apply(patch)
	next.ID = id
	next.DataDir = filepath.Clean(next.DataDir)
	if !sameDir(next.DataDir, prev.DataDir) {
		if owner := r.dataDirOwnerLocked(next.DataDir); owner != "" {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDataDir, owner)
		}
	}
	e.cfg = next
	r.persistLocked()
	r.mu.Unlock()

	changes := reconciler.Diff(prev, next)
	decision := reconciler.Classify(patch)
	r.logger.Info("Instance updated",
		"instance_id", id,
		"decision", decision.String(),
		"changed", reconciler.Keys(changes),
	)
	if len(changes) > 0 {
		parts := make([]string, len(changes))
		for i, c := range changes {
			parts[i] = c.String()
		}
		r.note(e, models.ActivityInfo, "Configuration updated: "+strings.Join(parts, ", "))
	}

	stopPorts := reconciler.StopPorts(prev, next)
	moved := !sameDir(prev.DataDir, next.DataDir)
	return r.tasks.Go(func() error {
		_, _, writeErr := r.writeFiles(e)
		if decision == reconciler.Restart {
			return errors.Join(writeErr, r.restart(e, stopPorts))
		}
		r.pushRuntimePatch(e, reconciler.RuntimePatch(patch))
		if !moved {
			return writeErr
		}
		// The client reads its endpoint from the data dir
		err := r.initClient(r.ctx, e)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		return errors.Join(writeErr, err)
	}), nil
}

// pushRuntimePatch sends a hot-reload patch to a connected worker. A
// failure is only recorded; the files already hold the new values.
func (r *Registry) pushRuntimePatch(e *entry, patch map[string]interface{}) {
	if len(patch) == 0 {
		return
	}

	r.mu.RLock()
	client := e.client
	connected := client != nil && e.status == models.StatusConnected && !e.removed
	r.mu.RUnlock()

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if !connected {
		r.logger.Debug("Worker not connected, change applies on next start", "instance_id", e.id, "fields", keys)
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, utils.ControlRequestTimeout)
	defer cancel()
	if err := client.SetRuntimeConfig(ctx, patch); err != nil {
		r.logger.Warn("Failed to apply runtime config", "instance_id", e.id, "fields", keys, "error", err)
		r.note(e, models.ActivityWarning, fmt.Sprintf("Could not apply %s live: %v", strings.Join(keys, ", "), err))
		return
	}
	r.note(e, models.ActivitySuccess, "Applied live: "+strings.Join(keys, ", "))
}

// Remove drops an instance. Its activity log and live state are cleared
// at once; with the stop-on-remove policy the returned task also stops
// its worker.
func (r *Registry) Remove(ctx context.Context, id string) (*tasks.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	e.removed = true
	e.gen++
	client := e.client
	e.client = nil
	e.status = models.StatusUnknown
	e.restart = ""

	delete(r.entries, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeID == id {
		r.activeID = ""
		if len(r.order) > 0 {
			r.activeID = r.order[0]
		}
	}
	r.activity.Clear(id)
	r.persistLocked()
	stop := r.settings.stopOnRemove
	cfg := e.cfg
	r.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			r.logger.Debug("Control client close failed", "instance_id", id, "error", err)
		}
	}
	r.logger.Info("Instance removed", "instance_id", id, "stop_worker", stop)

	if !stop {
		return tasks.Completed(nil), nil
	}
	return r.tasks.Go(func() error {
		// Waits out a restart in flight so the worker it started is
		// stopped too.
		e.restartMu.Lock()
		defer e.restartMu.Unlock()

		r.mu.RLock()
		ports := mergePorts([]int{cfg.Port}, e.launchedPort)
		r.mu.RUnlock()

		_, err := r.stopMatching(e, ports, cfg.DataDir)
		return err
	}), nil
}

// SetActive marks an instance as the active one
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	if r.activeID == id {
		return nil
	}
	r.activeID = id
	r.persistLocked()
	r.logger.Info("Active instance changed", "instance_id", id)
	return nil
}

// LoadFromConfig resolves every instance of the global document to a full
// record and registers it. The returned task starts auto-start workers
// and connects to every instance.
func (r *Registry) LoadFromConfig(ctx context.Context) *tasks.Task {
	if err := ctx.Err(); err != nil {
		return tasks.Completed(err)
	}

	doc := r.store.Get()
	r.logger.Info("Loading instances", "count", len(doc.Instances))

	var (
		loaded     []*entry
		unresolved []models.InstanceEntry
	)
	for _, ref := range doc.Instances {
		cfg, embedded, err := r.resolve(ref)
		if err != nil {
			r.logger.Warn("Skipping unreadable instance",
				"instance_id", ref.ID,
				"data_dir", ref.DataDir,
				"error", err,
			)
			unresolved = append(unresolved, ref)
			continue
		}

		r.mu.Lock()
		_, dupID := r.entries[cfg.ID]
		owner := r.dataDirOwnerLocked(cfg.DataDir)
		if dupID || owner != "" {
			r.mu.Unlock()
			r.logger.Warn("Skipping duplicate instance", "instance_id", cfg.ID, "data_dir", cfg.DataDir)
			continue
		}
		e := &entry{
			id:       cfg.ID,
			cfg:      cfg,
			embedded: embedded,
			restart:  models.RestartIdle,
		}
		r.entries[e.id] = e
		r.order = append(r.order, e.id)
		r.mu.Unlock()
		loaded = append(loaded, e)
	}

	r.mu.Lock()
	r.unresolved = append(r.unresolved, unresolved...)
	r.activeID = doc.ActiveInstanceID
	if _, ok := r.entries[r.activeID]; !ok {
		r.activeID = ""
		if len(r.order) > 0 {
			r.activeID = r.order[0]
		}
	}
	if r.activeID != doc.ActiveInstanceID {
		r.persistLocked()
	}
	r.mu.Unlock()

	r.logger.Info("Instances loaded", "loaded", len(loaded), "skipped", len(unresolved))

	return r.tasks.Go(func() error {
		started := make([]*tasks.Task, 0, len(loaded))
		for _, e := range loaded {
			started = append(started, r.tasks.Go(func() error {
				cfg, _ := r.config(e)
				return r.bringUp(e, cfg.AutoStart)
			}))
		}
		return tasks.All(started...).Wait(context.Background())
	})
}

// resolve turns an entry of the global document into a full record
func (r *Registry) resolve(ref models.InstanceEntry) (models.InstanceConfig, bool, error) {
	if ref.Embedded() {
		cfg := ref.Config.Clone()
		if cfg.ID == "" {
			cfg.ID = ref.ID
		}
		if cfg.DataDir == "" {
			cfg.DataDir = ref.DataDir
		}
		if cfg.ID == "" {
			return models.InstanceConfig{}, false, errors.New("embedded record has no id")
		}
		return cfg, true, nil
	}

	if ref.DataDir == "" {
		return models.InstanceConfig{}, false, ErrDataDirRequired
	}
	cfg, err := r.files.ReadInstance(ref.DataDir)
	if err != nil {
		return models.InstanceConfig{}, false, err
	}
	if cfg.ID != ref.ID {
		r.logger.Warn("Instance file id differs from reference",
			"reference_id", ref.ID,
			"file_id", cfg.ID,
			"data_dir", ref.DataDir,
		)
		cfg.ID = ref.ID
	}
	cfg.DataDir = filepath.Clean(ref.DataDir)
	return cfg, false, nil
}

// bringUp writes e's files and starts its worker when start is set, then
// connects to it
func (r *Registry) bringUp(e *entry, start bool) error {
	var errs []error

	cfg, ok := r.config(e)
	if !ok {
		return nil
	}
	if start && cfg.DataDir != "" {
		errs = append(errs, r.launch(e))
	}

	if err := r.initClient(r.ctx, e); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// launch writes e's files and starts its worker under restartMu, so a
// concurrent Remove either sees the worker it must stop or keeps it from
// starting at all.
func (r *Registry) launch(e *entry) error {
	e.restartMu.Lock()
	defer e.restartMu.Unlock()

	if r.isRemoved(e) {
		return nil
	}
	var errs []error
	cfg, merged, err := r.writeFiles(e)
	if err != nil {
		errs = append(errs, err)
	}
	if r.isRemoved(e) {
		return errors.Join(errs...)
	}
	if err := r.startWorker(e, cfg, merged); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// writeFiles writes the latest record to instance.json and merges it into
// the runtime config. It returns the record and the merged config; on a
// runtime config failure the merged config is computed from scratch.
func (r *Registry) writeFiles(e *entry) (models.InstanceConfig, models.WorkerRuntimeConfig, error) {
	e.fileMu.Lock()
	defer e.fileMu.Unlock()

	cfg, ok := r.config(e)
	if !ok {
		return cfg, models.WorkerRuntimeConfig{}, ErrNotFound
	}
	if cfg.DataDir == "" {
		return cfg, reconciler.MergeRuntimeConfig(models.WorkerRuntimeConfig{}, cfg), ErrDataDirRequired
	}

	var errs []error
	if err := r.files.WriteInstance(cfg.DataDir, cfg); err != nil {
		r.logger.Error("Failed to write instance file", "instance_id", e.id, "data_dir", cfg.DataDir, "error", err)
		r.note(e, models.ActivityError, fmt.Sprintf("Failed to write instance file: %v", err))
		errs = append(errs, fmt.Errorf("write instance file: %w", err))
		r.setEmbedded(e, true)
	} else {
		r.setEmbedded(e, false)
	}

	merged, err := r.files.UpdateRuntimeConfig(cfg.DataDir, func(existing models.WorkerRuntimeConfig) models.WorkerRuntimeConfig {
		return reconciler.MergeRuntimeConfig(existing, cfg)
	})
	if err != nil {
		r.logger.Error("Failed to write runtime config", "instance_id", e.id, "data_dir", cfg.DataDir, "error", err)
		r.note(e, models.ActivityError, fmt.Sprintf("Failed to write runtime config: %v", err))
		errs = append(errs, fmt.Errorf("write runtime config: %w", err))
		merged = reconciler.MergeRuntimeConfig(models.WorkerRuntimeConfig{}, cfg)
	}
	return cfg, merged, errors.Join(errs...)
}

// setEmbedded switches how e is persisted in the global document
func (r *Registry) setEmbedded(e *entry, embedded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.removed || e.embedded == embedded {
		return
	}
	e.embedded = embedded
	r.persistLocked()
}
