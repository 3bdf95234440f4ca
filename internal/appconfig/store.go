// Package appconfig owns the shell's global JSON document: settings, the
// instance collection, the active instance and UI preferences.
package appconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/tasks"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

// Store holds the document in memory and persists it in the background.
// Memory is the authority for the running session: a failed write is
// logged and the next successful write catches the file up.
type Store struct {
	path     string
	logger   *logging.Logger
	defaults func() models.ApplicationConfig
	migrator *Migrator

	mu  sync.RWMutex
	doc models.ApplicationConfig
	seq uint64

	writeMu sync.Mutex
	written uint64

	writes tasks.Tracker
}

// Option customizes a Store
type Option func(*Store)

// WithSettingsDefaults overrides the built-in global settings defaults
func WithSettingsDefaults(s models.GlobalSettings) Option {
	return func(st *Store) {
		base := st.defaults
		st.defaults = func() models.ApplicationConfig {
			doc := base()
			doc.Settings = s
			return doc
		}
	}
}

// WithMigrator replaces the schema migrator
func WithMigrator(m *Migrator) Option {
	return func(st *Store) {
		st.migrator = m
	}
}

// Open loads the document at path, creating it from defaults when absent
func Open(path string, logger *logging.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = logging.Global()
	}
	s := &Store{
		path:     path,
		logger:   logger.Component("appconfig"),
		defaults: Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.migrator == nil {
		s.migrator = NewMigrator(s.logger)
	}

	doc, dirty, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	if dirty {
		s.persistLocked()
	}
	return s, nil
}

// load reads and migrates the file. dirty reports whether the result
// differs from what is on disk.
func (s *Store) load() (models.ApplicationConfig, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("No application config found, using defaults", "path", s.path)
			return s.defaults(), true, nil
		}
		return models.ApplicationConfig{}, false, fmt.Errorf("failed to read application config: %w", err)
	}

	doc, err := decode(data, s.defaults())
	if err != nil {
		backup := s.path + ".corrupt"
		s.logger.Error("Application config is unreadable, starting from defaults",
			"path", s.path,
			"backup", backup,
			"error", err)
		if rerr := os.Rename(s.path, backup); rerr != nil {
			return models.ApplicationConfig{}, false, fmt.Errorf("failed to back up corrupt config: %w", rerr)
		}
		return s.defaults(), true, nil
	}

	active := doc.ActiveInstanceID
	doc.FixActiveInstance()
	dirty := active != doc.ActiveInstanceID

	migrated, changed := s.migrator.Migrate(doc)
	return migrated, dirty || changed, nil
}

// decode applies data on top of base. Keys present in data win, absent
// keys keep the base value. A document without schemaVersion predates
// versioning and is treated as schema 1.
func decode(data []byte, base models.ApplicationConfig) (models.ApplicationConfig, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return models.ApplicationConfig{}, err
	}

	doc := base
	doc.Instances = nil
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.ApplicationConfig{}, err
	}
	if _, ok := keys["schemaVersion"]; !ok {
		doc.SchemaVersion = models.AppSchemaEmbedded
	}
	if doc.Instances == nil {
		doc.Instances = []models.InstanceEntry{}
	}
	return doc, nil
}

// Path returns the document location
func (s *Store) Path() string {
	return s.path
}

// Get returns a deep copy of the in-memory document
func (s *Store) Get() models.ApplicationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Update applies patch in memory and schedules a write
func (s *Store) Update(patch Patch) *tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	patch.Apply(&s.doc)
	return s.persistLocked()
}

// Reset restores the built-in defaults and schedules a write
func (s *Store) Reset() *tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = s.defaults()
	s.logger.Info("Application config reset to defaults")
	return s.persistLocked()
}

// Flush waits for every scheduled write
func (s *Store) Flush(ctx context.Context) error {
	return s.writes.WaitContext(ctx)
}

// persistLocked snapshots the document under a new sequence number and
// writes it in the background. Caller holds s.mu.
func (s *Store) persistLocked() *tasks.Task {
	s.seq++
	seq := s.seq
	snapshot := s.doc.Clone()
	return s.writes.Go(func() error {
		return s.write(seq, snapshot)
	})
}

// write stores snapshot unless a newer one already reached the disk
func (s *Store) write(seq uint64, snapshot models.ApplicationConfig) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if seq <= s.written {
		s.logger.Debug("Skipping stale config write", "seq", seq, "written", s.written)
		return nil
	}

	data, err := models.EncodeIndented(snapshot)
	if err != nil {
		s.logger.Error("Failed to encode application config", "error", err)
		return fmt.Errorf("failed to encode application config: %w", err)
	}
	if err := workerconfig.WriteFileAtomic(s.path, data, 0o600); err != nil {
		s.logger.Error("Failed to persist application config", "path", s.path, "error", err)
		return err
	}

	s.written = seq
	s.logger.Debug("Application config persisted", "seq", seq)
	return nil
}
