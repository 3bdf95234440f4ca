package models

import (
	"encoding/json"
)

// Capability names passed to the worker
const (
	CapabilityClient     = "client"
	CapabilityStorage    = "storage"
	CapabilityAggregator = "aggregator"
)

// Capabilities is the set of roles an instance runs with
type Capabilities struct {
	Client     bool `json:"client"`
	Storage    bool `json:"storage"`
	Aggregator bool `json:"aggregator"`
}

// InstanceConfig is the shell's record of one supervised worker.
// Port is the worker's control port; ListenPort is its peer listen port.
type InstanceConfig struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	DataDir        string       `json:"dataDir"`
	AutoStart      bool         `json:"autoStart"`
	Port           int          `json:"port"`
	ListenPort     int          `json:"listenPort"`
	Host           string       `json:"host,omitempty"`
	SocketPath     string       `json:"socketPath,omitempty"`
	IdentityRef    string       `json:"identity,omitempty"`
	Capabilities   Capabilities `json:"capabilities"`
	MaxStorageGB   int64        `json:"maxStorageGB"`
	BandwidthLimit int64        `json:"bandwidthLimit,omitempty"`

	// Extra holds fields of instance.json this version does not know about
	Extra map[string]json.RawMessage `json:"-"`
}

var instanceKnownFields = map[string]bool{
	"id": true, "name": true, "dataDir": true, "autoStart": true,
	"port": true, "listenPort": true, "host": true, "socketPath": true,
	"identity": true, "capabilities": true, "maxStorageGB": true,
	"bandwidthLimit": true,
}

// DefaultInstanceConfig is the record absent keys are back-filled from
func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{
		Capabilities: Capabilities{Client: true},
		MaxStorageGB: 10,
	}
}

type instanceAlias InstanceConfig

// UnmarshalJSON decodes onto the receiver so preset values act as defaults
func (c *InstanceConfig) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*instanceAlias)(c)); err != nil {
		return err
	}
	extra, err := captureExtra(data, instanceKnownFields)
	if err != nil {
		return err
	}
	c.Extra = extra
	return nil
}

// MarshalJSON encodes the record together with preserved unknown fields
func (c InstanceConfig) MarshalJSON() ([]byte, error) {
	return mergeExtra(instanceAlias(c), c.Extra)
}

// Clone returns a deep copy
func (c InstanceConfig) Clone() InstanceConfig {
	c.Extra = copyExtra(c.Extra)
	return c
}

// Ref returns the reference-only form of the record
func (c InstanceConfig) Ref() InstanceEntry {
	return InstanceEntry{ID: c.ID, DataDir: c.DataDir}
}

// InstancePatch is a partial update of an InstanceConfig. A nil field is
// untouched; Capabilities is replaced wholesale when present.
type InstancePatch struct {
	Name           *string       `json:"name,omitempty"`
	DataDir        *string       `json:"dataDir,omitempty"`
	AutoStart      *bool         `json:"autoStart,omitempty"`
	Port           *int          `json:"port,omitempty"`
	ListenPort     *int          `json:"listenPort,omitempty"`
	Host           *string       `json:"host,omitempty"`
	SocketPath     *string       `json:"socketPath,omitempty"`
	IdentityRef    *string       `json:"identity,omitempty"`
	Capabilities   *Capabilities `json:"capabilities,omitempty"`
	MaxStorageGB   *int64        `json:"maxStorageGB,omitempty"`
	BandwidthLimit *int64        `json:"bandwidthLimit,omitempty"`
}

// Keys returns the JSON keys the patch touches, in declaration order
func (p InstancePatch) Keys() []string {
	var keys []string
	add := func(set bool, key string) {
		if set {
			keys = append(keys, key)
		}
	}
	add(p.Name != nil, "name")
	add(p.DataDir != nil, "dataDir")
	add(p.AutoStart != nil, "autoStart")
	add(p.Port != nil, "port")
	add(p.ListenPort != nil, "listenPort")
	add(p.Host != nil, "host")
	add(p.SocketPath != nil, "socketPath")
	add(p.IdentityRef != nil, "identity")
	add(p.Capabilities != nil, "capabilities")
	add(p.MaxStorageGB != nil, "maxStorageGB")
	add(p.BandwidthLimit != nil, "bandwidthLimit")
	return keys
}

// IsEmpty reports whether the patch touches nothing
func (p InstancePatch) IsEmpty() bool {
	return len(p.Keys()) == 0
}

// Apply returns a copy of c with the patch merged in
func (c InstanceConfig) Apply(p InstancePatch) InstanceConfig {
	out := c.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.DataDir != nil {
		out.DataDir = *p.DataDir
	}
	if p.AutoStart != nil {
		out.AutoStart = *p.AutoStart
	}
	if p.Port != nil {
		out.Port = *p.Port
	}
	if p.ListenPort != nil {
		out.ListenPort = *p.ListenPort
	}
	if p.Host != nil {
		out.Host = *p.Host
	}
	if p.SocketPath != nil {
		out.SocketPath = *p.SocketPath
	}
	if p.IdentityRef != nil {
		out.IdentityRef = *p.IdentityRef
	}
	if p.Capabilities != nil {
		out.Capabilities = *p.Capabilities
	}
	if p.MaxStorageGB != nil {
		out.MaxStorageGB = *p.MaxStorageGB
	}
	if p.BandwidthLimit != nil {
		out.BandwidthLimit = *p.BandwidthLimit
	}
	return out
}
