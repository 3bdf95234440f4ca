// Package workerconfig reads and writes the files a worker keeps under its
// data dir: the runtime config the worker boots from and the shell's
// instance record.
package workerconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// RuntimeConfigPath returns the location of the worker runtime config
func RuntimeConfigPath(dataDir string) string {
	return filepath.Join(dataDir, utils.RuntimeConfigFile)
}

// InstancePath returns the location of the instance record
func InstancePath(dataDir string) string {
	return filepath.Join(dataDir, utils.InstanceFile)
}

// Files serializes read-modify-write cycles per data dir. The zero value
// is ready to use.
type Files struct {
	locks sync.Map // dataDir -> *sync.Mutex
}

// NewFiles creates a Files
func NewFiles() *Files {
	return &Files{}
}

func (f *Files) lock(dataDir string) func() {
	v, _ := f.locks.LoadOrStore(filepath.Clean(dataDir), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ReadRuntimeConfig loads <dataDir>/config.json. A missing file yields an
// empty config and no error.
func (f *Files) ReadRuntimeConfig(dataDir string) (models.WorkerRuntimeConfig, error) {
	return ReadRuntimeConfig(dataDir)
}

// WriteRuntimeConfig replaces <dataDir>/config.json
func (f *Files) WriteRuntimeConfig(dataDir string, cfg models.WorkerRuntimeConfig) error {
	unlock := f.lock(dataDir)
	defer unlock()
	return WriteRuntimeConfig(dataDir, cfg)
}

// UpdateRuntimeConfig reads the runtime config, passes it through fn and
// writes the result back while holding the data dir lock. It returns what
// was written.
func (f *Files) UpdateRuntimeConfig(dataDir string, fn func(models.WorkerRuntimeConfig) models.WorkerRuntimeConfig) (models.WorkerRuntimeConfig, error) {
	unlock := f.lock(dataDir)
	defer unlock()

	current, err := ReadRuntimeConfig(dataDir)
	if err != nil {
		return models.WorkerRuntimeConfig{}, err
	}
	next := fn(current)
	if err := WriteRuntimeConfig(dataDir, next); err != nil {
		return models.WorkerRuntimeConfig{}, err
	}
	return next, nil
}

// ReadInstance loads <dataDir>/instance.json
func (f *Files) ReadInstance(dataDir string) (models.InstanceConfig, error) {
	return ReadInstance(dataDir)
}

// WriteInstance replaces <dataDir>/instance.json
func (f *Files) WriteInstance(dataDir string, cfg models.InstanceConfig) error {
	unlock := f.lock(dataDir)
	defer unlock()
	return WriteInstance(dataDir, cfg)
}

// ReadRuntimeConfig loads <dataDir>/config.json without locking
func ReadRuntimeConfig(dataDir string) (models.WorkerRuntimeConfig, error) {
	var cfg models.WorkerRuntimeConfig

	data, err := os.ReadFile(RuntimeConfigPath(dataDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read runtime config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return models.WorkerRuntimeConfig{}, fmt.Errorf("failed to parse runtime config: %w", err)
	}
	return cfg, nil
}

// WriteRuntimeConfig replaces <dataDir>/config.json without locking
func WriteRuntimeConfig(dataDir string, cfg models.WorkerRuntimeConfig) error {
	data, err := models.EncodeIndented(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal runtime config: %w", err)
	}
	return WriteFileAtomic(RuntimeConfigPath(dataDir), data, 0o644)
}

// ReadInstance loads <dataDir>/instance.json. Absent keys are back-filled
// from models.DefaultInstanceConfig. A missing file is reported as an error
// wrapping os.ErrNotExist.
func ReadInstance(dataDir string) (models.InstanceConfig, error) {
	data, err := os.ReadFile(InstancePath(dataDir))
	if err != nil {
		return models.InstanceConfig{}, fmt.Errorf("failed to read instance file: %w", err)
	}
	cfg := models.DefaultInstanceConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return models.InstanceConfig{}, fmt.Errorf("failed to parse instance file: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// WriteInstance replaces <dataDir>/instance.json without locking
func WriteInstance(dataDir string, cfg models.InstanceConfig) error {
	data, err := models.EncodeIndented(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	return WriteFileAtomic(InstancePath(dataDir), data, 0o644)
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, creating the parent directory when needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
