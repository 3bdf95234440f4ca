package utils

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

// HTTP Handler Timeouts
const (
	// DefaultRequestTimeout is the default timeout for HTTP requests
	DefaultRequestTimeout = 30 * time.Second

	// WorkerProxyTimeout bounds HTTP requests that are proxied to a worker
	WorkerProxyTimeout = 5 * time.Second
)

// Control channel (gRPC) Timeouts
const (
	// ControlRequestTimeout is the default timeout for a single control call
	ControlRequestTimeout = 5 * time.Second

	// ControlEnrichTimeout bounds the status/peers queries issued after connect
	ControlEnrichTimeout = 3 * time.Second

	// ControlBackoffBaseDelay is the first reconnect delay of a control connection
	ControlBackoffBaseDelay = 500 * time.Millisecond

	// ControlBackoffMaxDelay caps the reconnect delay of a control connection
	ControlBackoffMaxDelay = 15 * time.Second
)

// =============================================================================
// Process Supervision Constants
// =============================================================================

const (
	// DefaultRestartGracePeriod is how long a restart waits after stopping a worker
	DefaultRestartGracePeriod = 2 * time.Second

	// DefaultStopTimeout is how long a worker gets to exit after SIGINT before SIGKILL
	DefaultStopTimeout = 10 * time.Second

	// WorkerPIDFile is the name of the pid file written into an instance data dir
	WorkerPIDFile = "worker.pid"
)

// =============================================================================
// Per-instance Files
// =============================================================================

const (
	// RuntimeConfigFile is the worker runtime config read by the worker on startup
	RuntimeConfigFile = "config.json"

	// InstanceFile holds the full instance record in the reference-only schema
	InstanceFile = "instance.json"
)

// =============================================================================
// Activity Constants
// =============================================================================

const (
	// DefaultActivityCapacity is the number of events kept per instance
	DefaultActivityCapacity = 50

	// ActivitySubjectPrefix prefixes the feed subject, followed by the instance id
	ActivitySubjectPrefix = "craftstudio.activity"
)

// =============================================================================
// Worker Runtime Defaults
// =============================================================================

const (
	// RuntimeSchemaVersion is the worker runtime config version written by the shell
	RuntimeSchemaVersion = 2

	// DefaultAnnounceInterval is the announce interval in seconds
	DefaultAnnounceInterval = 60

	// DefaultReannounceInterval is the reannounce interval in seconds
	DefaultReannounceInterval = 3600

	// BytesPerGB converts the storage quota from GiB to bytes
	BytesPerGB = int64(1) << 30
)

// =============================================================================
// Feed Type Constants
// =============================================================================
// QueueType represents the type of message queue
type QueueType string

const (
	// QueueTypeNone disables the activity feed
	QueueTypeNone QueueType = "none"

	// QueueTypeNATS represents core NATS publish
	QueueTypeNATS QueueType = "nats"

	// QueueTypeRedis represents Redis Streams
	QueueTypeRedis QueueType = "redis"

	// QueueTypeKafka represents Apache Kafka
	QueueTypeKafka QueueType = "kafka"

	// QueueTypeMemory represents in-memory queue (for testing)
	QueueTypeMemory QueueType = "memory"
)
