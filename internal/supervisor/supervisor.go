// Package supervisor starts, lists and stops local worker processes
package supervisor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start when a worker already owns the
	// control port or data dir. Callers treat it as success.
	ErrAlreadyRunning = errors.New("worker already running")
	// ErrNotFound is returned by Stop for a pid that is not a known worker
	ErrNotFound = errors.New("worker process not found")
	// ErrInvalidDescriptor is returned by Start for an unusable descriptor
	ErrInvalidDescriptor = errors.New("invalid worker descriptor")
)

// Descriptor declares how to launch a worker
type Descriptor struct {
	DataDir      string
	SocketPath   string
	ControlPort  int
	ListenAddr   string
	BinaryPath   string
	Capabilities []string
}

// Validate checks the fields Start cannot do without
func (d Descriptor) Validate() error {
	if d.DataDir == "" {
		return errors.Join(ErrInvalidDescriptor, errors.New("data dir is required"))
	}
	if d.BinaryPath == "" {
		return errors.Join(ErrInvalidDescriptor, errors.New("binary path is required"))
	}
	if d.ControlPort < 0 || d.ControlPort > 65535 {
		return errors.Join(ErrInvalidDescriptor, errors.New("control port out of range"))
	}
	return nil
}

// ProcessInfo describes a running worker
type ProcessInfo struct {
	PID         int       `json:"pid"`
	ControlPort int       `json:"controlPort"`
	DataDir     string    `json:"dataDir,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// Supervisor is the process control boundary the registry drives
type Supervisor interface {
	List(ctx context.Context) ([]ProcessInfo, error)
	Start(ctx context.Context, desc Descriptor) (ProcessInfo, error)
	Stop(ctx context.Context, pid int) error
}
