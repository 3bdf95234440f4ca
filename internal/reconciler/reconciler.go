// Package reconciler decides how an instance edit reaches its worker and
// computes the runtime config written under the instance's data dir.
// Everything here is pure.
package reconciler

import (
	"net"
	"strconv"

	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/supervisor"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// Decision is the outcome of classifying a patch
type Decision int

const (
	// HotReload means the change can be pushed to a running worker
	HotReload Decision = iota
	// Restart means the worker must be stopped and started again
	Restart
)

func (d Decision) String() string {
	switch d {
	case HotReload:
		return "hot-reload"
	case Restart:
		return "restart"
	default:
		return "unknown"
	}
}

// RestartFields are the instance keys a worker only reads at startup
var RestartFields = map[string]bool{
	"capabilities": true,
	"port":         true,
	"listenPort":   true,
	"socketPath":   true,
}

// Classify returns Restart iff the patch touches a restart field
func Classify(patch models.InstancePatch) Decision {
	return ClassifyKeys(patch.Keys())
}

// ClassifyKeys classifies a raw key set
func ClassifyKeys(keys []string) Decision {
	for _, k := range keys {
		if RestartFields[k] {
			return Restart
		}
	}
	return HotReload
}

// ResolveCapabilities lists the enabled capabilities in fixed order. The
// result is never empty: with every flag off the worker runs as a client.
func ResolveCapabilities(c models.Capabilities) []string {
	caps := make([]string, 0, 3)
	if c.Client {
		caps = append(caps, models.CapabilityClient)
	}
	if c.Storage {
		caps = append(caps, models.CapabilityStorage)
	}
	if c.Aggregator {
		caps = append(caps, models.CapabilityAggregator)
	}
	if len(caps) == 0 {
		caps = append(caps, models.CapabilityClient)
	}
	return caps
}

// MergeRuntimeConfig lays the instance's declared fields over the config
// found on disk. Timings, tuning and unknown fields come from existing;
// version, capabilities, ports, socket, storage quota and bandwidth come
// from inst. Merging the result again with the same inst is a no-op.
func MergeRuntimeConfig(existing models.WorkerRuntimeConfig, inst models.InstanceConfig) models.WorkerRuntimeConfig {
	out := existing.Clone()

	out.Version = utils.RuntimeSchemaVersion
	out.Capabilities = ResolveCapabilities(inst.Capabilities)
	out.ControlPort = inst.Port
	out.ListenPort = inst.ListenPort
	out.SocketPath = inst.SocketPath
	out.StorageQuota = inst.MaxStorageGB * utils.BytesPerGB
	out.BandwidthLimit = inst.BandwidthLimit

	out.ListenAddr = listenAddr(inst.Host, inst.ListenPort)

	if out.AnnounceInterval <= 0 {
		out.AnnounceInterval = utils.DefaultAnnounceInterval
	}
	if out.ReannounceInterval <= 0 {
		out.ReannounceInterval = utils.DefaultReannounceInterval
	}
	return out
}

// RuntimePatch is the worker-facing part of a hot-reload patch, keyed by
// runtime config field. It is empty when nothing the worker reads changed.
func RuntimePatch(patch models.InstancePatch) map[string]interface{} {
	out := make(map[string]interface{})
	if patch.MaxStorageGB != nil {
		out["storageQuota"] = *patch.MaxStorageGB * utils.BytesPerGB
	}
	if patch.BandwidthLimit != nil {
		out["bandwidthLimit"] = *patch.BandwidthLimit
	}
	return out
}

// listenAddr is the peer listen address for port, bound to all interfaces
// when host is empty. A zero port means no listener.
func listenAddr(host string, port int) string {
	if port <= 0 {
		return ""
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Descriptor builds the launch descriptor for a merged runtime config
func Descriptor(runtime models.WorkerRuntimeConfig, inst models.InstanceConfig, binary string) supervisor.Descriptor {
	caps := append([]string(nil), runtime.Capabilities...)
	if len(caps) == 0 {
		caps = ResolveCapabilities(inst.Capabilities)
	}

	return supervisor.Descriptor{
		DataDir:      inst.DataDir,
		SocketPath:   runtime.SocketPath,
		ControlPort:  runtime.ControlPort,
		ListenAddr:   listenAddr(inst.Host, runtime.ListenPort),
		BinaryPath:   binary,
		Capabilities: caps,
	}
}

// StopPorts returns the distinct non-zero control ports a restart must
// clear: the one the worker was started with and the one it will get.
func StopPorts(previous, current models.InstanceConfig) []int {
	var ports []int
	for _, p := range []int{previous.Port, current.Port} {
		if p <= 0 {
			continue
		}
		dup := false
		for _, q := range ports {
			if q == p {
				dup = true
			}
		}
		if !dup {
			ports = append(ports, p)
		}
	}
	return ports
}
