package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/registry"
	"github.com/craftstudio/craftstudio/internal/tasks"
)

// fakeInstances is an in-memory Instances
type fakeInstances struct {
	mu        sync.Mutex
	order     []string
	records   map[string]models.InstanceConfig
	active    string
	activity  map[string][]models.ActivityEvent
	connected map[string]bool
	patches   map[string][]models.InstancePatch
	restarts  []string
	apiKeys   map[string]string
	settings  []models.GlobalSettings
	store     *appconfig.Store
	workerErr error
}

func newFakeInstances(store *appconfig.Store) *fakeInstances {
	return &fakeInstances{
		records:   make(map[string]models.InstanceConfig),
		activity:  make(map[string][]models.ActivityEvent),
		connected: make(map[string]bool),
		patches:   make(map[string][]models.InstancePatch),
		apiKeys:   make(map[string]string),
		store:     store,
	}
}

func (f *fakeInstances) viewLocked(id string) models.InstanceView {
	status := models.StatusDisconnected
	if f.connected[id] {
		status = models.StatusConnected
	}
	return models.InstanceView{
		InstanceConfig: f.records[id],
		Active:         id == f.active,
		Connection:     status,
		RestartState:   models.RestartIdle,
	}
}

func (f *fakeInstances) List() []models.InstanceView {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.InstanceView, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.viewLocked(id))
	}
	return out
}

func (f *fakeInstances) Get(id string) (models.InstanceView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return models.InstanceView{}, registry.ErrNotFound
	}
	return f.viewLocked(id), nil
}

func (f *fakeInstances) ActiveID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeInstances) Add(ctx context.Context, inst models.InstanceConfig, apiKey string) (models.InstanceConfig, *tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst.DataDir == "" {
		return models.InstanceConfig{}, nil, registry.ErrDataDirRequired
	}
	if inst.ID == "" {
		inst.ID = "generated"
	}
	if _, ok := f.records[inst.ID]; ok {
		return models.InstanceConfig{}, nil, registry.ErrDuplicateID
	}
	f.records[inst.ID] = inst
	f.order = append(f.order, inst.ID)
	f.active = inst.ID
	f.apiKeys[inst.ID] = apiKey
	return inst, tasks.Completed(nil), nil
}

func (f *fakeInstances) Update(ctx context.Context, id string, patch models.InstancePatch) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	f.records[id] = rec.Apply(patch)
	f.patches[id] = append(f.patches[id], patch)
	return tasks.Completed(nil), nil
}

func (f *fakeInstances) Remove(ctx context.Context, id string) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return nil, registry.ErrNotFound
	}
	delete(f.records, id)
	for i, other := range f.order {
		if other == id {
			f.order = append(f.order[:i:i], f.order[i+1:]...)
			break
		}
	}
	if f.active == id {
		f.active = ""
	}
	return tasks.Completed(nil), nil
}

func (f *fakeInstances) RestartInstance(ctx context.Context, id string) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return nil, registry.ErrNotFound
	}
	f.restarts = append(f.restarts, id)
	return tasks.Completed(nil), nil
}

func (f *fakeInstances) SetActive(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return registry.ErrNotFound
	}
	f.active = id
	return nil
}

func (f *fakeInstances) Activity(id string) []models.ActivityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ActivityEvent{}, f.activity[id]...)
}

func (f *fakeInstances) WorkerStatus(ctx context.Context, id string) (models.WorkerStatus, error) {
	if err := f.workerCheck(id); err != nil {
		return models.WorkerStatus{}, err
	}
	return models.WorkerStatus{NodeID: "node-" + id, Version: "0.3.0", PeerCount: 2}, nil
}

func (f *fakeInstances) WorkerPeers(ctx context.Context, id string) ([]models.Peer, error) {
	if err := f.workerCheck(id); err != nil {
		return nil, err
	}
	return []models.Peer{{ID: "p1", Address: "10.0.0.2:4100"}, {ID: "p2", Address: "10.0.0.3:4100"}}, nil
}

func (f *fakeInstances) workerCheck(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return registry.ErrNotFound
	}
	if !f.connected[id] {
		return registry.ErrNotConnected
	}
	return f.workerErr
}

func (f *fakeInstances) ApplySettings(s models.GlobalSettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, s)
}

func (f *fakeInstances) ResetConfig() *tasks.Task {
	if f.store == nil {
		return tasks.Completed(errors.New("no store"))
	}
	return f.store.Reset()
}
