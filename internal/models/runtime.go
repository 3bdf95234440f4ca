package models

import (
	"encoding/json"
)

// WorkerRuntimeConfig is the document a worker reads from its data dir on
// startup. Fields the shell does not understand live in Extra and are
// written back untouched.
type WorkerRuntimeConfig struct {
	Version            int      `json:"version"`
	Capabilities       []string `json:"capabilities"`
	ControlPort        int      `json:"controlPort"`
	ListenPort         int      `json:"listenPort"`
	ListenAddr         string   `json:"listenAddr,omitempty"`
	SocketPath         string   `json:"socketPath,omitempty"`
	AnnounceInterval   int      `json:"announceInterval"`   // seconds
	ReannounceInterval int      `json:"reannounceInterval"` // seconds
	StorageQuota       int64    `json:"storageQuota"`       // bytes
	BandwidthLimit     int64    `json:"bandwidthLimit,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var runtimeKnownFields = map[string]bool{
	"version": true, "capabilities": true, "controlPort": true,
	"listenPort": true, "listenAddr": true, "socketPath": true,
	"announceInterval": true, "reannounceInterval": true,
	"storageQuota": true, "bandwidthLimit": true,
}

type runtimeAlias WorkerRuntimeConfig

// UnmarshalJSON decodes onto the receiver and captures unknown fields
func (c *WorkerRuntimeConfig) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*runtimeAlias)(c)); err != nil {
		return err
	}
	extra, err := captureExtra(data, runtimeKnownFields)
	if err != nil {
		return err
	}
	c.Extra = extra
	return nil
}

// MarshalJSON encodes known fields and the preserved unknown ones
func (c WorkerRuntimeConfig) MarshalJSON() ([]byte, error) {
	return mergeExtra(runtimeAlias(c), c.Extra)
}

// Clone returns a deep copy
func (c WorkerRuntimeConfig) Clone() WorkerRuntimeConfig {
	c.Capabilities = append([]string(nil), c.Capabilities...)
	c.Extra = copyExtra(c.Extra)
	return c
}
