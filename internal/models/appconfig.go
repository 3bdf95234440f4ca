package models

import (
	"encoding/json"
)

// Application document schema versions
const (
	// AppSchemaEmbedded stores full instance records in the global document
	AppSchemaEmbedded = 1
	// AppSchemaReferences stores {id, dataDir} globally and the full record
	// under each instance's data dir
	AppSchemaReferences = 2

	AppSchemaCurrent = AppSchemaReferences
)

// GlobalSettings are cross-instance shell settings
type GlobalSettings struct {
	WorkerBinary         string `json:"workerBinary"`
	DefaultDataRoot      string `json:"defaultDataRoot"`
	RestartGracePeriodMs int    `json:"restartGracePeriodMs"`
	StopWorkerOnRemove   bool   `json:"stopWorkerOnRemove"`
}

// UIPreferences are front-end preferences persisted on its behalf
type UIPreferences struct {
	Theme            string `json:"theme"`
	Language         string `json:"language"`
	SidebarCollapsed bool   `json:"sidebarCollapsed"`
}

// InstanceEntry is one element of the global instance collection. Config
// is set only for entries that embed the full record (schema 1).
type InstanceEntry struct {
	ID      string
	DataDir string
	Config  *InstanceConfig
}

// Embedded reports whether the entry carries the full record
func (e InstanceEntry) Embedded() bool {
	return e.Config != nil
}

type instanceRef struct {
	ID      string `json:"id"`
	DataDir string `json:"dataDir"`
}

// UnmarshalJSON accepts both the reference and the embedded form
func (e *InstanceEntry) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	embedded := false
	for k := range keys {
		if k != "id" && k != "dataDir" {
			embedded = true
			break
		}
	}

	if !embedded {
		var ref instanceRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*e = InstanceEntry{ID: ref.ID, DataDir: ref.DataDir}
		return nil
	}

	cfg := DefaultInstanceConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	*e = InstanceEntry{ID: cfg.ID, DataDir: cfg.DataDir, Config: &cfg}
	return nil
}

// MarshalJSON writes the embedded record or the bare reference
func (e InstanceEntry) MarshalJSON() ([]byte, error) {
	if e.Config != nil {
		return e.Config.MarshalJSON()
	}
	return marshalNoEscape(instanceRef{ID: e.ID, DataDir: e.DataDir})
}

// ApplicationConfig is the single global document of the shell
type ApplicationConfig struct {
	SchemaVersion    int             `json:"schemaVersion"`
	Settings         GlobalSettings  `json:"settings"`
	Instances        []InstanceEntry `json:"instances"`
	ActiveInstanceID string          `json:"activeInstanceId"`
	UI               UIPreferences   `json:"ui"`

	Extra map[string]json.RawMessage `json:"-"`
}

var appKnownFields = map[string]bool{
	"schemaVersion": true, "settings": true, "instances": true,
	"activeInstanceId": true, "ui": true,
}

type appAlias ApplicationConfig

// UnmarshalJSON decodes onto the receiver and captures unknown fields
func (c *ApplicationConfig) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*appAlias)(c)); err != nil {
		return err
	}
	extra, err := captureExtra(data, appKnownFields)
	if err != nil {
		return err
	}
	c.Extra = extra
	return nil
}

// MarshalJSON encodes the document with its preserved unknown fields
func (c ApplicationConfig) MarshalJSON() ([]byte, error) {
	return mergeExtra(appAlias(c), c.Extra)
}

// Clone returns a deep copy
func (c ApplicationConfig) Clone() ApplicationConfig {
	out := c
	out.Instances = make([]InstanceEntry, len(c.Instances))
	for i, e := range c.Instances {
		if e.Config != nil {
			cfg := e.Config.Clone()
			e.Config = &cfg
		}
		out.Instances[i] = e
	}
	out.Extra = copyExtra(c.Extra)
	return out
}

// FindInstance returns the index of the entry with the given id, or -1
func (c *ApplicationConfig) FindInstance(id string) int {
	for i, e := range c.Instances {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// FixActiveInstance makes ActiveInstanceID reference an existing entry,
// falling back to the first instance or none.
func (c *ApplicationConfig) FixActiveInstance() {
	if c.ActiveInstanceID != "" && c.FindInstance(c.ActiveInstanceID) >= 0 {
		return
	}
	c.ActiveInstanceID = ""
	if len(c.Instances) > 0 {
		c.ActiveInstanceID = c.Instances[0].ID
	}
}
