package reconciler

import (
	"fmt"

	"github.com/craftstudio/craftstudio/internal/models"
)

// FieldChange is one instance key whose value differs between two records
type FieldChange struct {
	Key string
	Old interface{}
	New interface{}
}

func (c FieldChange) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Key, c.Old, c.New)
}

// Diff lists the keys that differ between before and after, in the same
// order as models.InstancePatch.Keys. The id is never reported.
func Diff(before, after models.InstanceConfig) []FieldChange {
	var changes []FieldChange
	add := func(key string, prev, next interface{}) {
		if prev != next {
			changes = append(changes, FieldChange{Key: key, Old: prev, New: next})
		}
	}
	add("name", before.Name, after.Name)
	add("dataDir", before.DataDir, after.DataDir)
	add("autoStart", before.AutoStart, after.AutoStart)
	add("port", before.Port, after.Port)
	add("listenPort", before.ListenPort, after.ListenPort)
	add("host", before.Host, after.Host)
	add("socketPath", before.SocketPath, after.SocketPath)
	add("identity", before.IdentityRef, after.IdentityRef)
	add("capabilities", before.Capabilities, after.Capabilities)
	add("maxStorageGB", before.MaxStorageGB, after.MaxStorageGB)
	add("bandwidthLimit", before.BandwidthLimit, after.BandwidthLimit)
	return changes
}

// Keys returns the changed keys of a diff
func Keys(changes []FieldChange) []string {
	keys := make([]string, len(changes))
	for i, c := range changes {
		keys[i] = c.Key
	}
	return keys
}
