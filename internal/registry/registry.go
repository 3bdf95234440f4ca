// Package registry owns the live set of instances. It keeps the global
// document, the per-instance files, the worker processes and the control
// connections in step with each other.
package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/craftstudio/craftstudio/internal/activity"
	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/control"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/supervisor"
	"github.com/craftstudio/craftstudio/internal/tasks"
	"github.com/craftstudio/craftstudio/internal/utils"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

var (
	ErrNotFound         = errors.New("instance not found")
	ErrDuplicateID      = errors.New("instance id already exists")
	ErrDuplicateDataDir = errors.New("data dir already used by another instance")
	ErrDataDirRequired  = errors.New("instance data dir is required")
	ErrNotConnected     = errors.New("instance has no control connection")
	ErrClosed           = errors.New("registry closed")
)

// ControlClient is the part of control.Client the registry drives
type ControlClient interface {
	OnConnection(fn func(connected bool))
	Start(ctx context.Context, dataDir, apiKey string) error
	Status(ctx context.Context) (models.WorkerStatus, error)
	ListPeers(ctx context.Context) ([]models.Peer, error)
	SetRuntimeConfig(ctx context.Context, patch map[string]interface{}) error
	Close() error
}

// ClientFactory returns a fresh, unstarted control client
type ClientFactory func() ControlClient

// NewControlClientFactory builds gRPC control clients
func NewControlClientFactory(logger *logging.Logger, opts control.Options) ClientFactory {
	return func() ControlClient {
		return control.NewClient(logger, opts)
	}
}

// Files reads and writes the files under an instance's data dir
type Files interface {
	ReadInstance(dataDir string) (models.InstanceConfig, error)
	WriteInstance(dataDir string, cfg models.InstanceConfig) error
	UpdateRuntimeConfig(dataDir string, fn func(models.WorkerRuntimeConfig) models.WorkerRuntimeConfig) (models.WorkerRuntimeConfig, error)
}

// ConfigStore is the part of appconfig.Store the registry persists through
type ConfigStore interface {
	Get() models.ApplicationConfig
	Update(patch appconfig.Patch) *tasks.Task
	Reset() *tasks.Task
}

// Options wires a Registry
type Options struct {
	Store         ConfigStore
	Supervisor    supervisor.Supervisor
	ClientFactory ClientFactory
	Files         Files
	Activity      *activity.Book
	Logger        *logging.Logger

	// GracePeriod is waited after stopping a worker before starting it
	// again. Zero means no wait.
	GracePeriod  time.Duration
	StopOnRemove bool
	WorkerBinary string
}

type settings struct {
	binary       string
	grace        time.Duration
	stopOnRemove bool
}

// entry is the live state of one instance. Fields other than the mutexes
// are guarded by Registry.mu.
type entry struct {
	id       string
	cfg      models.InstanceConfig
	apiKey   string
	embedded bool

	client  ControlClient
	gen     uint64
	status  models.ConnectionStatus
	restart models.RestartState
	removed bool

	// launchedPort is the control port of the last worker start
	launchedPort int

	restartMu sync.Mutex
	fileMu    sync.Mutex
}

// Registry is the set of configured instances and their live state
type Registry struct {
	store      ConfigStore
	supervisor supervisor.Supervisor
	newClient  ClientFactory
	files      Files
	activity   *activity.Book
	logger     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  tasks.Tracker

	mu         sync.RWMutex
	entries    map[string]*entry
	order      []string
	activeID   string
	unresolved []models.InstanceEntry
	settings   settings
	closed     bool
}

// New creates a registry. Store, Supervisor and ClientFactory are required.
func New(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, errors.New("registry: config store is required")
	}
	if opts.Supervisor == nil {
		return nil, errors.New("registry: supervisor is required")
	}
	if opts.ClientFactory == nil {
		return nil, errors.New("registry: client factory is required")
	}
	if opts.Files == nil {
		opts.Files = workerconfig.NewFiles()
	}
	if opts.Activity == nil {
		opts.Activity = activity.NewBook(utils.DefaultActivityCapacity)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:      opts.Store,
		supervisor: opts.Supervisor,
		newClient:  opts.ClientFactory,
		files:      opts.Files,
		activity:   opts.Activity,
		logger:     opts.Logger.Component("registry"),
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*entry),
		settings: settings{
			binary:       opts.WorkerBinary,
			grace:        opts.GracePeriod,
			stopOnRemove: opts.StopOnRemove,
		},
	}, nil
}

// ApplySettings updates the worker binary, grace period and remove policy
// used by later operations
func (r *Registry) ApplySettings(s models.GlobalSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applySettingsLocked(s)
}

func (r *Registry) applySettingsLocked(s models.GlobalSettings) {
	if s.WorkerBinary != "" {
		r.settings.binary = s.WorkerBinary
	}
	if s.RestartGracePeriodMs >= 0 {
		r.settings.grace = time.Duration(s.RestartGracePeriodMs) * time.Millisecond
	}
	r.settings.stopOnRemove = s.StopWorkerOnRemove
}

func (r *Registry) currentSettings() settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// ResetConfig restores the global document to defaults while keeping the
// live instance references and active id
func (r *Registry) ResetConfig() *tasks.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset := r.store.Reset()
	persisted := r.persistLocked()
	r.applySettingsLocked(r.store.Get().Settings)
	r.logger.Info("Application config reset", "instances", len(r.order))
	return tasks.All(reset, persisted)
}

// persistLocked writes the reference list and active id. Records whose
// instance file could not be written stay embedded.
func (r *Registry) persistLocked() *tasks.Task {
	refs := make([]models.InstanceEntry, 0, len(r.order)+len(r.unresolved))
	for _, id := range r.order {
		e := r.entries[id]
		ref := e.cfg.Ref()
		if e.embedded {
			cfg := e.cfg.Clone()
			ref.Config = &cfg
		}
		refs = append(refs, ref)
	}
	refs = append(refs, r.unresolved...)

	active := r.activeID
	return r.store.Update(appconfig.Patch{
		Instances:        &refs,
		ActiveInstanceID: &active,
	})
}

func (r *Registry) dataDirOwnerLocked(dataDir string) string {
	for _, id := range r.order {
		if sameDir(r.entries[id].cfg.DataDir, dataDir) {
			return id
		}
	}
	return ""
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// config returns a copy of e's record, or false once e is removed
func (r *Registry) config(e *entry) (models.InstanceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.cfg.Clone(), !e.removed
}

func (r *Registry) isRemoved(e *entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.removed || r.closed
}

// note records an activity event for e unless e has been removed. The
// read lock keeps it from racing the clear done by Remove.
func (r *Registry) note(e *entry, level models.ActivityLevel, msg string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e.removed {
		return
	}
	r.activity.Append(e.id, level, msg)
}

func (r *Registry) viewLocked(e *entry) models.InstanceView {
	return models.InstanceView{
		InstanceConfig: e.cfg.Clone(),
		Active:         e.id == r.activeID,
		Connection:     e.status,
		RestartState:   e.restart,
	}
}

// List returns every instance in insertion order
func (r *Registry) List() []models.InstanceView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.InstanceView, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.viewLocked(r.entries[id]))
	}
	return out
}

// Get returns one instance
func (r *Registry) Get(id string) (models.InstanceView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return models.InstanceView{}, ErrNotFound
	}
	return r.viewLocked(e), nil
}

// ActiveID returns the active instance id, or "" when there is none
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// ConnectionStatus returns StatusUnknown for an unknown id
func (r *Registry) ConnectionStatus(id string) models.ConnectionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.status
	}
	return models.StatusUnknown
}

// RestartState returns "" for an unknown id
func (r *Registry) RestartState(id string) models.RestartState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.restart
	}
	return ""
}

// Activity returns an instance's activity log, oldest first
func (r *Registry) Activity(id string) []models.ActivityEvent {
	return r.activity.Events(id)
}

func (r *Registry) connectedClient(id string) (ControlClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.client == nil || e.status != models.StatusConnected {
		return nil, ErrNotConnected
	}
	return e.client, nil
}

// WorkerStatus asks the instance's worker for its status
func (r *Registry) WorkerStatus(ctx context.Context, id string) (models.WorkerStatus, error) {
	client, err := r.connectedClient(id)
	if err != nil {
		return models.WorkerStatus{}, err
	}
	return client.Status(ctx)
}

// WorkerPeers asks the instance's worker for its peers
func (r *Registry) WorkerPeers(ctx context.Context, id string) ([]models.Peer, error) {
	client, err := r.connectedClient(id)
	if err != nil {
		return nil, err
	}
	return client.ListPeers(ctx)
}

// Wait blocks until every background task has finished
func (r *Registry) Wait() {
	r.tasks.Wait()
}

// WaitContext is Wait bounded by ctx
func (r *Registry) WaitContext(ctx context.Context) error {
	return r.tasks.WaitContext(ctx)
}

// Close drops every control connection and cancels background work.
// Workers are left running.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var clients []ControlClient
	for _, e := range r.entries {
		if e.client != nil {
			clients = append(clients, e.client)
			e.client = nil
		}
		e.gen++
	}
	r.mu.Unlock()

	r.cancel()
	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("Registry closed", "connections", len(clients))
	return errors.Join(errs...)
}

func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
