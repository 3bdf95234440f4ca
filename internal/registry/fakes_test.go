package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/craftstudio/craftstudio/internal/activity"
	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/supervisor"
	"github.com/craftstudio/craftstudio/internal/tasks"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

// fakeSupervisor keeps processes in memory
type fakeSupervisor struct {
	mu       sync.Mutex
	nextPID  int
	procs    map[int]supervisor.ProcessInfo
	starts   []supervisor.Descriptor
	stops    []int
	startErr error

	// stopGate, when set, holds every Stop until closed
	stopGate    chan struct{}
	stopEntered chan struct{}

	// startGate, when set, holds every Start until closed
	startGate    chan struct{}
	startEntered chan struct{}
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		nextPID: 1000,
		procs:   make(map[int]supervisor.ProcessInfo),
	}
}

func (f *fakeSupervisor) List(ctx context.Context) ([]supervisor.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]supervisor.ProcessInfo, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (f *fakeSupervisor) Start(ctx context.Context, desc supervisor.Descriptor) (supervisor.ProcessInfo, error) {
	f.mu.Lock()
	gate, entered := f.startGate, f.startEntered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, desc)
	if f.startErr != nil {
		return supervisor.ProcessInfo{}, f.startErr
	}
	for _, p := range f.procs {
		if p.ControlPort == desc.ControlPort || sameDir(p.DataDir, desc.DataDir) {
			return p, supervisor.ErrAlreadyRunning
		}
	}
	f.nextPID++
	info := supervisor.ProcessInfo{
		PID:         f.nextPID,
		ControlPort: desc.ControlPort,
		DataDir:     desc.DataDir,
		StartedAt:   time.Now(),
	}
	f.procs[info.PID] = info
	return info, nil
}

func (f *fakeSupervisor) Stop(ctx context.Context, pid int) error {
	f.mu.Lock()
	gate, entered := f.stopGate, f.stopEntered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[pid]; !ok {
		return supervisor.ErrNotFound
	}
	delete(f.procs, pid)
	f.stops = append(f.stops, pid)
	return nil
}

func (f *fakeSupervisor) add(info supervisor.ProcessInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[info.PID] = info
}

func (f *fakeSupervisor) blockStops() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopGate = make(chan struct{})
	f.stopEntered = make(chan struct{}, 1)
	gate := f.stopGate
	return func() { close(gate) }
}

func (f *fakeSupervisor) blockStarts() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startGate = make(chan struct{})
	f.startEntered = make(chan struct{}, 1)
	gate := f.startGate
	return func() { close(gate) }
}

func (f *fakeSupervisor) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeSupervisor) startCalls() []supervisor.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supervisor.Descriptor(nil), f.starts...)
}

func (f *fakeSupervisor) stopCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.stops...)
}

func (f *fakeSupervisor) running(dataDir string) (supervisor.ProcessInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.procs {
		if sameDir(p.DataDir, dataDir) {
			return p, true
		}
	}
	return supervisor.ProcessInfo{}, false
}

// fakeClient reports connection edges on demand
type fakeClient struct {
	mu        sync.Mutex
	observers []func(bool)
	started   bool
	dataDir   string
	apiKey    string
	closed    bool
	patches   []map[string]interface{}

	connect  bool
	startErr error
}

func (c *fakeClient) OnConnection(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *fakeClient) Start(ctx context.Context, dataDir, apiKey string) error {
	c.mu.Lock()
	c.started = true
	c.dataDir = dataDir
	c.apiKey = apiKey
	err, connect := c.startErr, c.connect
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if connect {
		c.emit(true)
	}
	return nil
}

func (c *fakeClient) emit(connected bool) {
	c.mu.Lock()
	fns := append([]func(bool){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

func (c *fakeClient) Status(ctx context.Context) (models.WorkerStatus, error) {
	return models.WorkerStatus{
		NodeID:       "node-1",
		Version:      "0.3.0",
		Capabilities: []string{"client"},
	}, nil
}

func (c *fakeClient) ListPeers(ctx context.Context) ([]models.Peer, error) {
	return []models.Peer{{ID: "peer-1", Address: "10.0.0.2:4100"}}, nil
}

func (c *fakeClient) SetRuntimeConfig(ctx context.Context, patch map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.patches = append(c.patches, patch)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) sentPatches() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]interface{}(nil), c.patches...)
}

// clientPool hands out fakeClients and remembers them
type clientPool struct {
	mu       sync.Mutex
	clients  []*fakeClient
	connect  bool
	startErr error
}

func (p *clientPool) factory() ControlClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &fakeClient{connect: p.connect, startErr: p.startErr}
	p.clients = append(p.clients, c)
	return c
}

func (p *clientPool) all() []*fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeClient(nil), p.clients...)
}

// started returns the started clients for dataDir in creation order
func (p *clientPool) started(dataDir string) []*fakeClient {
	var out []*fakeClient
	for _, c := range p.all() {
		c.mu.Lock()
		ok := c.started && sameDir(c.dataDir, dataDir)
		c.mu.Unlock()
		if ok {
			out = append(out, c)
		}
	}
	return out
}

type harnessConfig struct {
	appConfig    string
	migrator     *appconfig.Migrator
	connect      bool
	stopOnRemove bool
}

type harnessOption func(*harnessConfig)

func withAppConfig(doc string) harnessOption {
	return func(c *harnessConfig) { c.appConfig = doc }
}

func withMigrator(m *appconfig.Migrator) harnessOption {
	return func(c *harnessConfig) { c.migrator = m }
}

func disconnected() harnessOption {
	return func(c *harnessConfig) { c.connect = false }
}

func keepWorkersOnRemove() harnessOption {
	return func(c *harnessConfig) { c.stopOnRemove = false }
}

type harness struct {
	root    string
	store   *appconfig.Store
	sup     *fakeSupervisor
	clients *clientPool
	reg     *Registry
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{connect: true, stopOnRemove: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	root := t.TempDir()
	path := filepath.Join(root, "app", "craftstudio.json")
	if cfg.appConfig != "" {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(cfg.appConfig), 0o600))
	}

	var storeOpts []appconfig.Option
	if cfg.migrator != nil {
		storeOpts = append(storeOpts, appconfig.WithMigrator(cfg.migrator))
	}
	store, err := appconfig.Open(path, logging.NewNop(), storeOpts...)
	require.NoError(t, err)

	h := &harness{
		root:    root,
		store:   store,
		sup:     newFakeSupervisor(),
		clients: &clientPool{connect: cfg.connect},
	}
	h.reg, err = New(Options{
		Store:         store,
		Supervisor:    h.sup,
		ClientFactory: h.clients.factory,
		Files:         workerconfig.NewFiles(),
		Activity:      activity.NewBook(50),
		Logger:        logging.NewNop(),
		StopOnRemove:  cfg.stopOnRemove,
		WorkerBinary:  "craftworker",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = h.reg.Close()
		h.reg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Flush(ctx)
	})
	return h
}

func (h *harness) dir(name string) string {
	return filepath.Join(h.root, name)
}

func (h *harness) instance(id string, port int) models.InstanceConfig {
	inst := models.DefaultInstanceConfig()
	inst.ID = id
	inst.Name = id
	inst.DataDir = h.dir(id)
	inst.Port = port
	return inst
}

// add registers inst and waits until its worker is up and every
// follow-up task has settled
func (h *harness) add(t *testing.T, inst models.InstanceConfig) {
	t.Helper()
	_, task, err := h.reg.Add(context.Background(), inst, "")
	require.NoError(t, err)
	wait(t, task)
	h.reg.Wait()
}

func wait(t *testing.T, task *tasks.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task did not finish")
	return err
}

func messages(events []models.ActivityEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}

func ids(views []models.InstanceView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }
